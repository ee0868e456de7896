package source

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/roach88/resultexport/internal/normalize"
	"github.com/roach88/resultexport/internal/retry"
	"github.com/roach88/resultexport/internal/telemetry"
)

// Retrying decorates a Client with a retry policy. Client errors other
// than 408 and 429 are not retried.
type Retrying struct {
	next   Client
	policy retry.Policy
	sink   telemetry.Sink
}

// NewRetrying wraps next.
func NewRetrying(next Client, policy retry.Policy, sink telemetry.Sink) *Retrying {
	if sink == nil {
		sink = telemetry.Nop()
	}
	return &Retrying{next: next, policy: policy, sink: sink}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	return r.policy.Do(ctx, fn, Retryable, func(err error, wait time.Duration) {
		r.sink.Warn("source call failed, retrying", telemetry.Fields{
			"op":    op,
			"wait":  wait.String(),
			"error": err,
		})
	})
}

func (r *Retrying) FetchUnprocessed(ctx context.Context, q UnprocessedQuery) ([]normalize.RawResult, error) {
	var out []normalize.RawResult
	err := r.do(ctx, "fetch unprocessed", func() error {
		var err error
		out, err = r.next.FetchUnprocessed(ctx, q)
		return err
	})
	return out, err
}

func (r *Retrying) FetchCorresponding(ctx context.Context, q CorrespondingQuery) ([]normalize.RawCorresponding, error) {
	var out []normalize.RawCorresponding
	err := r.do(ctx, "fetch corresponding", func() error {
		var err error
		out, err = r.next.FetchCorresponding(ctx, q)
		return err
	})
	return out, err
}

func (r *Retrying) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	return r.do(ctx, "update status", func() error {
		return r.next.UpdateStatus(ctx, u)
	})
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *Error
	if !errors.As(err, &se) {
		return true
	}
	switch {
	case se.StatusCode == 0:
		return true
	case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusTooManyRequests:
		return true
	case se.StatusCode >= 500:
		return true
	}
	return false
}
