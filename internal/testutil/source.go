package testutil

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/source"
)

// FakeSource is an in-memory source.Client.
//
// FetchUnprocessed honours the query's product and status selection and
// keeps a separate export status per stream. A result's own ExportStatus
// is its status in every stream not yet written. Corresponding results are
// keyed by candidate id and product.
type FakeSource struct {
	mu sync.Mutex

	Results       []normalize.RawResult
	Corresponding map[CorrespondingKey][]normalize.RawCorresponding

	// statuses holds written export statuses by stream, then record id.
	statuses map[string]map[string]string

	FetchErr         error
	CorrespondingErr error
	// UpdateErr, when set, decides the outcome of the n-th (1-based)
	// UpdateStatus call.
	UpdateErr func(call int, u source.StatusUpdate) error

	Queries            []source.UnprocessedQuery
	CorrespondingCalls []source.CorrespondingQuery
	Updates            []source.StatusUpdate
}

// CorrespondingKey indexes FakeSource.Corresponding.
type CorrespondingKey struct {
	CandidateID string
	ProductCode string
}

// NewFakeSource creates a FakeSource returning results.
func NewFakeSource(results ...normalize.RawResult) *FakeSource {
	return &FakeSource{
		Results:       results,
		Corresponding: map[CorrespondingKey][]normalize.RawCorresponding{},
		statuses:      map[string]map[string]string{},
	}
}

// AddCorresponding registers matches for a candidate and product.
func (f *FakeSource) AddCorresponding(candidateID, productCode string, matches ...normalize.RawCorresponding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := CorrespondingKey{CandidateID: candidateID, ProductCode: productCode}
	f.Corresponding[key] = append(f.Corresponding[key], matches...)
}

func (f *FakeSource) FetchUnprocessed(_ context.Context, q source.UnprocessedQuery) ([]normalize.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, q)
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	out := make([]normalize.RawResult, 0, len(f.Results))
	for _, r := range f.Results {
		status := f.status(q.Stream, r)
		if status != "" && status != string(model.ExportUnprocessed) {
			continue
		}
		if !selects(q, r) {
			continue
		}
		r.ExportStatus = status
		out = append(out, r)
	}
	return out, nil
}

func selects(q source.UnprocessedQuery, r normalize.RawResult) bool {
	if len(q.ProductCodes) > 0 && !slices.Contains(q.ProductCodes, strings.TrimSpace(r.ProductCode)) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, model.ResultStatus(strings.TrimSpace(r.Status))) {
		return false
	}
	return true
}

func (f *FakeSource) status(stream string, r normalize.RawResult) string {
	if s, ok := f.statuses[stream][r.ID]; ok {
		return s
	}
	return r.ExportStatus
}

func (f *FakeSource) FetchCorresponding(_ context.Context, q source.CorrespondingQuery) ([]normalize.RawCorresponding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CorrespondingCalls = append(f.CorrespondingCalls, q)
	if f.CorrespondingErr != nil {
		return nil, f.CorrespondingErr
	}
	return append([]normalize.RawCorresponding{}, f.Corresponding[CorrespondingKey{q.CandidateID, q.ProductCode}]...), nil
}

// UpdateStatus records u and, on success, applies the status to the
// records in u.Stream.
func (f *FakeSource) UpdateStatus(_ context.Context, u source.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, u)
	if f.UpdateErr != nil {
		if err := f.UpdateErr(len(f.Updates), u); err != nil {
			return err
		}
	}
	written := f.statuses[u.Stream]
	if written == nil {
		written = map[string]string{}
		f.statuses[u.Stream] = written
	}
	for _, id := range u.RecordIDs {
		written[id] = string(u.Status)
	}
	return nil
}

// ExportStatus returns the current export status of record id in stream.
func (f *FakeSource) ExportStatus(stream, id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.Results {
		if r.ID == id {
			return f.status(stream, r)
		}
	}
	return ""
}

// UpdateSizes returns the number of ids in each UpdateStatus call.
func (f *FakeSource) UpdateSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.Updates))
	for i, u := range f.Updates {
		out[i] = len(u.RecordIDs)
	}
	return out
}
