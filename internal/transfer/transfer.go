// Package transfer is the file-transfer channel output files are
// delivered over. Paths are slash-separated and relative to the channel
// root.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/resultexport/internal/retry"
	"github.com/roach88/resultexport/internal/telemetry"
)

// ErrNotFound is returned by GetFile and DeleteFile for a missing path.
var ErrNotFound = errors.New("file not found")

// Client moves whole files to and from the channel.
type Client interface {
	PutFile(ctx context.Context, path string, content []byte) error
	GetFile(ctx context.Context, path string) ([]byte, error)
	// ListFiles returns the base names in dir starting with prefix.
	ListFiles(ctx context.Context, dir, prefix string) ([]string, error)
	DeleteFile(ctx context.Context, path string) error
}

// Retrying decorates a Client with a retry policy. ErrNotFound and
// cancellation are not retried.
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

func (r *Retrying) do(ctx context.Context, op, path string, fn func() error) error {
	return r.policy.Do(ctx, fn, retryable, func(err error, wait time.Duration) {
		r.sink.Warn("transfer call failed, retrying", telemetry.Fields{
			"op":    op,
			"path":  path,
			"wait":  wait.String(),
			"error": err,
		})
	})
}

func (r *Retrying) PutFile(ctx context.Context, path string, content []byte) error {
	return r.do(ctx, "put", path, func() error {
		return r.next.PutFile(ctx, path, content)
	})
}

func (r *Retrying) GetFile(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "get", path, func() error {
		var err error
		out, err = r.next.GetFile(ctx, path)
		return err
	})
	return out, err
}

func (r *Retrying) ListFiles(ctx context.Context, dir, prefix string) ([]string, error) {
	var out []string
	err := r.do(ctx, "list", dir, func() error {
		var err error
		out, err = r.next.ListFiles(ctx, dir, prefix)
		return err
	})
	return out, err
}

func (r *Retrying) DeleteFile(ctx context.Context, path string) error {
	return r.do(ctx, "delete", path, func() error {
		return r.next.DeleteFile(ctx, path)
	})
}

func retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
