package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result pairs the report of one run with its error.
type Result struct {
	Report Report
	Err    error
}

// RunAll dispatches each stream in its own goroutine and waits for every
// run to finish. A failed stream does not cancel the others. Results are
// returned in the order of keys.
func (o *Orchestrator) RunAll(ctx context.Context, keys []string) []Result {
	results := make([]Result, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			rep, err := o.Run(ctx, key)
			results[i] = Result{Report: rep, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
