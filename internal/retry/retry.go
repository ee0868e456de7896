// Package retry applies an exponential backoff policy around a call.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures retries. MaxAttempts counts the first call; a value
// below 1 is treated as 1.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultPolicy is used when no policy is configured.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: 500 * time.Millisecond,
	Multiplier:      2,
	MaxInterval:     10 * time.Second,
}

// Notify is called before each retry with the error that caused it.
type Notify func(err error, wait time.Duration)

// Do calls op until it succeeds, the attempts are used up, ctx is done or
// retryable reports false for the returned error. A nil retryable retries
// every error. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool, notify Notify) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	wrapped := func() error {
		err := op()
		if err != nil && retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var n backoff.Notify
	if notify != nil {
		n = backoff.Notify(notify)
	}
	return backoff.RetryNotify(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx), n)
}
