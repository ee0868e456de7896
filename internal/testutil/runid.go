package testutil

import (
	"fmt"
	"sync"
)

// FixedRunIDs hands out run ids from a fixed list, then "run-N".
//
// This keeps log output and reports deterministic across test runs.
type FixedRunIDs struct {
	mu   sync.Mutex
	ids  []string
	next int
}

// NewFixedRunIDs creates a generator returning ids in order.
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next id.
func (g *FixedRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	if g.next <= len(g.ids) {
		return g.ids[g.next-1]
	}
	return fmt.Sprintf("run-%d", g.next)
}
