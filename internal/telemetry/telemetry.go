// Package telemetry is the structured logging and business-event sink used
// by every stage of a dispatch run. Nothing here returns an error to the
// caller: a failure to log or publish never fails a run.
package telemetry

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BusinessEvent names a discrete, countable occurrence in a run.
type BusinessEvent string

const (
	EventNoCorrespondingTest BusinessEvent = "no-corresponding-test"
	EventMissingDate         BusinessEvent = "missing-date"
	EventRecordQuarantined   BusinessEvent = "record-quarantined"
	EventFileUploaded        BusinessEvent = "file-uploaded"
	EventChecksumMismatch    BusinessEvent = "checksum-mismatch"
	EventSequenceUpdated     BusinessEvent = "sequence-updated"
	EventStatusChunkFailed   BusinessEvent = "status-chunk-failed"
	EventDispatchCompleted   BusinessEvent = "dispatch-completed"
	EventDispatchFailed      BusinessEvent = "dispatch-failed"
)

// Fields are structured key/value pairs attached to a log line or event.
type Fields map[string]any

// Sink receives log lines and business events.
type Sink interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
	Event(ev BusinessEvent, f Fields)
}

// Publisher mirrors business events to an external consumer.
type Publisher interface {
	Publish(ev BusinessEvent, f Fields)
}

// Logger is a Sink backed by zap.
type Logger struct {
	log        *zap.Logger
	publishers []Publisher
}

// NewLogger wraps log. Every business event is also handed to pubs.
func NewLogger(log *zap.Logger, pubs ...Publisher) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log, publishers: pubs}
}

// NewProduction builds a production zap logger, at debug level when verbose.
func NewProduction(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Nop returns a Sink that discards everything.
func Nop() *Logger {
	return NewLogger(zap.NewNop())
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.log }

func (l *Logger) Debug(msg string, f Fields) { l.log.Debug(msg, zapFields(f)...) }
func (l *Logger) Info(msg string, f Fields)  { l.log.Info(msg, zapFields(f)...) }
func (l *Logger) Warn(msg string, f Fields)  { l.log.Warn(msg, zapFields(f)...) }
func (l *Logger) Error(msg string, f Fields) { l.log.Error(msg, zapFields(f)...) }

// Event logs ev at info level with an "event" field and publishes it.
func (l *Logger) Event(ev BusinessEvent, f Fields) {
	fields := append([]zap.Field{zap.String("event", string(ev))}, zapFields(f)...)
	l.log.Info("business event", fields...)
	for _, p := range l.publishers {
		p.Publish(ev, f)
	}
}

// zapFields converts f to zap fields in key order so output is stable.
func zapFields(f Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
