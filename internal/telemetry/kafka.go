package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes business events as JSON messages keyed by
// stream. Writes are asynchronous; failures are logged and dropped.
type KafkaPublisher struct {
	w   MessageWriter
	log *zap.Logger
	now func() time.Time
}

type eventMessage struct {
	Event  BusinessEvent `json:"event"`
	At     time.Time     `json:"at"`
	Fields Fields        `json:"fields,omitempty"`
}

// NewKafkaWriter builds an async writer for topic.
func NewKafkaWriter(brokers []string, topic string, log *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("event publish failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

// NewKafkaPublisher wraps w.
func NewKafkaPublisher(w MessageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{w: w, log: log, now: time.Now}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ev BusinessEvent, f Fields) {
	body, err := json.Marshal(eventMessage{Event: ev, At: p.now().UTC(), Fields: stringify(f)})
	if err != nil {
		p.log.Warn("event encode failed", zap.String("event", string(ev)), zap.Error(err))
		return
	}

	var key []byte
	if s, ok := f["stream"].(string); ok {
		key = []byte(s)
	}
	if err := p.w.WriteMessages(context.Background(), kafka.Message{Key: key, Value: body}); err != nil {
		p.log.Warn("event publish failed", zap.String("event", string(ev)), zap.Error(err))
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// stringify replaces error values, which do not marshal, with their text.
func stringify(f Fields) Fields {
	if len(f) == 0 {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}
