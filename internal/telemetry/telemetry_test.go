package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestLogger_Event(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := &recordingWriter{}
	pub := NewKafkaPublisher(w, zap.NewNop())
	pub.now = func() time.Time { return time.Date(2019, 5, 28, 0, 0, 0, 0, time.UTC) }

	l := NewLogger(zap.New(core), pub)
	l.Event(EventNoCorrespondingTest, Fields{"stream": "learner", "candidateId": "c-1"})

	entries := logs.FilterField(zap.String("event", "no-corresponding-test")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "c-1", entries[0].ContextMap()["candidateId"])

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("learner"), w.msgs[0].Key)

	var got eventMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, EventNoCorrespondingTest, got.Event)
	assert.Equal(t, "c-1", got.Fields["candidateId"])
}

func TestLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewLogger(zap.New(core))

	l.Debug("hidden", nil)
	l.Info("shown", Fields{"n": 1})
	l.Warn("careful", nil)
	l.Error("broken", Fields{"err": errors.New("boom")})

	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "boom", logs.FilterMessage("broken").All()[0].ContextMap()["err"])
}

func TestKafkaPublisher_SwallowsWriteErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := &recordingWriter{err: errors.New("broker down")}

	NewKafkaPublisher(w, zap.New(core)).Publish(EventDispatchFailed, Fields{"err": errors.New("x")})

	assert.Equal(t, 1, logs.FilterMessage("event publish failed").Len())
}

func TestNop(t *testing.T) {
	var s Sink = Nop()
	s.Event(EventFileUploaded, nil)
	s.Info("nothing", nil)
}
