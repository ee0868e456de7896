// Package source is the client for the source-of-record system that owns
// test results. Queries are typed values; only the client renders them
// into request text.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/resultexport/internal/model"
	"github.com/roach88/resultexport/internal/normalize"
)

// UnprocessedQuery selects results not yet exported for a stream.
type UnprocessedQuery struct {
	Stream       string
	ProductCodes []string // empty selects every product
	Statuses     []model.ResultStatus
	// PageSize bounds each request; the client follows continuation links.
	PageSize int
}

// CorrespondingQuery selects a candidate's results of one product type.
type CorrespondingQuery struct {
	CandidateID string
	ProductCode string
}

// StatusUpdate sets the export status of a batch of records in one stream.
type StatusUpdate struct {
	Stream     string
	RecordIDs  []string
	Status     model.ExportStatus
	ExportedAt time.Time
}

// Client is the source-of-record capability used by a dispatch run.
type Client interface {
	FetchUnprocessed(ctx context.Context, q UnprocessedQuery) ([]normalize.RawResult, error)
	// FetchCorresponding returns matches in the order the system holds
	// them, most recent first.
	FetchCorresponding(ctx context.Context, q CorrespondingQuery) ([]normalize.RawCorresponding, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) error
}

// Error is a failed source-system call. StatusCode is the HTTP status when
// one was received and is informational only.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
