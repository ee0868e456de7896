// Package corresponding resolves the test date of records whose product is
// one half of a paired test by looking up the candidate's other half.
//
// Resolution never mutates the batch it is given. It returns the ids to
// exclude and the dates to use; Apply builds the surviving list in a single
// pass afterwards.
package corresponding

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/resultexport/internal/codes"
	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/source"
	"github.com/roach88/resultexport/internal/telemetry"
)

// Fetcher looks up corresponding records.
type Fetcher interface {
	FetchCorresponding(ctx context.Context, q source.CorrespondingQuery) ([]normalize.RawCorresponding, error)
}

// Resolution is the outcome of resolving one batch.
type Resolution struct {
	// Dates holds the resolved test date per record id.
	Dates map[string]time.Time
	// Excluded holds ids with no corresponding record at all.
	Excluded map[string]bool
	// Unresolved lists ids whose corresponding record had no usable date,
	// in batch order. These records keep their own date.
	Unresolved []string
}

// TestDate returns the date to encode for r.
func (res Resolution) TestDate(r model.NormalizedResult) time.Time {
	if d, ok := res.Dates[r.ID]; ok {
		return d
	}
	return r.StartTime
}

// Apply splits records into those kept and those excluded, preserving order.
func (res Resolution) Apply(records []model.NormalizedResult) (kept, excluded []model.NormalizedResult) {
	kept = make([]model.NormalizedResult, 0, len(records))
	for _, r := range records {
		if res.Excluded[r.ID] {
			excluded = append(excluded, r)
			continue
		}
		kept = append(kept, r)
	}
	return kept, excluded
}

// Resolver resolves paired records against the source system.
type Resolver struct {
	tables      *codes.Tables
	fetcher     Fetcher
	sink        telemetry.Sink
	concurrency int
}

// NewResolver creates a Resolver. Lookups run one at a time unless
// concurrency is above 1, which requires a fetcher safe for concurrent use.
func NewResolver(tables *codes.Tables, fetcher Fetcher, sink telemetry.Sink, concurrency int) *Resolver {
	if sink == nil {
		sink = telemetry.Nop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Resolver{tables: tables, fetcher: fetcher, sink: sink, concurrency: concurrency}
}

type lookup struct {
	record  model.NormalizedResult
	paired  string
	matches []normalize.RawCorresponding
}

// Resolve looks up every paired record in records. A failed lookup aborts
// resolution with a source failure.
func (r *Resolver) Resolve(ctx context.Context, stream string, records []model.NormalizedResult) (Resolution, error) {
	res := Resolution{
		Dates:    map[string]time.Time{},
		Excluded: map[string]bool{},
	}

	var lookups []*lookup
	for _, rec := range records {
		if paired, ok := r.tables.PairedType(rec.ProductCode); ok {
			lookups = append(lookups, &lookup{record: rec, paired: paired})
		}
	}
	if len(lookups) == 0 {
		return res, nil
	}

	if err := r.fetchAll(ctx, stream, lookups); err != nil {
		return Resolution{}, err
	}

	for _, l := range lookups {
		fields := telemetry.Fields{
			"stream":      stream,
			"recordId":    l.record.ID,
			"candidateId": l.record.CandidateID,
			"productCode": l.record.ProductCode,
		}
		if len(l.matches) == 0 {
			r.sink.Event(telemetry.EventNoCorrespondingTest, fields)
			res.Excluded[l.record.ID] = true
			continue
		}
		date, ok := normalize.Corresponding(l.matches[0]).EffectiveDate()
		if !ok {
			fields["pairedProductCode"] = l.paired
			r.sink.Event(telemetry.EventMissingDate, fields)
			res.Unresolved = append(res.Unresolved, l.record.ID)
			continue
		}
		res.Dates[l.record.ID] = date
	}
	return res, nil
}

func (r *Resolver) fetchAll(ctx context.Context, stream string, lookups []*lookup) error {
	if r.concurrency == 1 {
		for _, l := range lookups {
			if err := r.fetch(ctx, stream, l); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, l := range lookups {
		g.Go(func() error {
			return r.fetch(gctx, stream, l)
		})
	}
	return g.Wait()
}

func (r *Resolver) fetch(ctx context.Context, stream string, l *lookup) error {
	matches, err := r.fetcher.FetchCorresponding(ctx, source.CorrespondingQuery{
		CandidateID: l.record.CandidateID,
		ProductCode: l.paired,
	})
	if err != nil {
		details := failure.Details{
			Stream:      stream,
			RecordID:    l.record.ID,
			CandidateID: l.record.CandidateID,
			ProductCode: l.paired,
		}
		var se *source.Error
		if errors.As(err, &se) {
			details.StatusCode = se.StatusCode
		}
		return failure.Wrap(failure.KindSource, "corresponding lookup failed", err).WithDetails(details)
	}
	l.matches = matches
	return nil
}
