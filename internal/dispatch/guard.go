package dispatch

import (
	"errors"
	"sync"
)

// ErrStreamBusy is returned when a run is requested for a stream that is
// already running in this process.
var ErrStreamBusy = errors.New("stream already dispatching")

// guard admits at most one run per stream.
type guard struct {
	mu      sync.Mutex
	running map[string]bool
}

func newGuard() *guard {
	return &guard{running: map[string]bool{}}
}

// acquire returns a release func, or false when key is taken.
func (g *guard) acquire(key string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[key] {
		return nil, false
	}
	g.running[key] = true
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.running, key)
	}, true
}

// list returns the streams currently dispatching.
func (g *guard) list() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for k := range g.running {
		out = append(out, k)
	}
	return out
}
