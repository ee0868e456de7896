// Package reconcile writes per-record export status back to the source
// system in fixed-size chunks.
//
// Chunks are written sequentially and independently: a failed chunk is
// logged and reported but neither stops later chunks nor undoes earlier
// ones. Retrying a chunk is the source client's concern.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/source"
	"github.com/roach88/resultexport/internal/telemetry"
)

// DefaultChunkSize is the number of records per status write.
const DefaultChunkSize = 100

// Updater is the status write capability of the source client.
type Updater interface {
	UpdateStatus(ctx context.Context, u source.StatusUpdate) error
}

// Reconciler writes the status of one stream in chunks.
type Reconciler struct {
	client    Updater
	stream    string
	chunkSize int
	sink      telemetry.Sink
}

// New creates a Reconciler for stream. A chunkSize below 1 uses
// DefaultChunkSize.
func New(client Updater, stream string, chunkSize int, sink telemetry.Sink) *Reconciler {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if sink == nil {
		sink = telemetry.Nop()
	}
	return &Reconciler{client: client, stream: stream, chunkSize: chunkSize, sink: sink}
}

// Reconcile marks quarantined ids Quarantined and exported ids Processed
// at exportedAt. Both sets are always attempted; failures from either are
// combined into one reconciliation failure listing every uncommitted id.
func (r *Reconciler) Reconcile(ctx context.Context, exported, quarantined []string, exportedAt time.Time) error {
	qErr := r.WriteStatus(ctx, quarantined, model.ExportQuarantined, time.Time{})
	eErr := r.WriteStatus(ctx, exported, model.ExportProcessed, exportedAt)
	return combine(qErr, eErr)
}

// WriteStatus writes status for ids in chunks.
func (r *Reconciler) WriteStatus(ctx context.Context, ids []string, status model.ExportStatus, at time.Time) error {
	var (
		failed []string
		causes []error
	)
	for chunk, start := 0, 0; start < len(ids); chunk, start = chunk+1, start+r.chunkSize {
		end := min(start+r.chunkSize, len(ids))
		batch := ids[start:end]

		err := r.client.UpdateStatus(ctx, source.StatusUpdate{
			Stream:     r.stream,
			RecordIDs:  batch,
			Status:     status,
			ExportedAt: at,
		})
		if err != nil {
			r.sink.Event(telemetry.EventStatusChunkFailed, telemetry.Fields{
				"stream":  r.stream,
				"status":  string(status),
				"chunk":   chunk,
				"records": len(batch),
				"error":   err,
			})
			failed = append(failed, batch...)
			causes = append(causes, fmt.Errorf("chunk %d: %w", chunk, err))
			continue
		}
		r.sink.Debug("status chunk committed", telemetry.Fields{
			"status":  string(status),
			"chunk":   chunk,
			"records": len(batch),
		})
	}

	if len(failed) == 0 {
		return nil
	}
	return failure.Wrap(failure.KindReconciliation,
		fmt.Sprintf("%d of %d %s status writes failed", len(failed), len(ids), status),
		errors.Join(causes...)).
		WithDetails(failure.Details{FailedIDs: failed})
}

func combine(errs ...error) error {
	var (
		failed []string
		causes []error
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		causes = append(causes, err)
		var fe *failure.Error
		if errors.As(err, &fe) {
			failed = append(failed, fe.Details.FailedIDs...)
		}
	}
	switch len(causes) {
	case 0:
		return nil
	case 1:
		return causes[0]
	}
	return failure.Wrap(failure.KindReconciliation, "status write-back incomplete", errors.Join(causes...)).
		WithDetails(failure.Details{FailedIDs: failed})
}
