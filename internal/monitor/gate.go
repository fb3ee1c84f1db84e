package monitor

import (
	"context"
	"sync"
)

// Gate is a manual-reset event: a boolean flag with Set, Clear, and Wait
// semantics. Waiters block until the gate is set; setting wakes all of
// them at once. Both workers park on the running gate, and the watcher
// consults the active gate before enqueuing.
type Gate struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set
}

// NewGate creates a gate in the given initial state.
func NewGate(set bool) *Gate {
	g := &Gate{set: set, ch: make(chan struct{})}
	if set {
		close(g.ch)
	}

	return g
}

// Set opens the gate, releasing all current and future waiters.
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.set {
		g.set = true
		close(g.ch)
	}
}

// Clear closes the gate; subsequent Wait calls block until the next Set.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.set {
		g.set = false
		g.ch = make(chan struct{})
	}
}

// IsSet reports the current state without blocking.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.set
}

// Wait blocks until the gate is set or the context is canceled.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.set {
			g.mu.Unlock()
			return nil
		}
		ch := g.ch
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
