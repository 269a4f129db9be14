package rate

import (
	"context"
	"sync"
)

// Gate is the process-wide RUNNING event. Toggling it pauses every active
// operation at its next suspension point: every token acquisition, byte
// acquisition, and download chunk waits on it.
type Gate struct {
	mu      sync.Mutex
	running bool
	ch      chan struct{} // closed while running
}

// NewGate returns a gate in the running state.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{running: true, ch: ch}
}

// Pause blocks new work at the next suspension point.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.running = false
	g.ch = make(chan struct{})
}

// Resume releases all waiters.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	g.running = true
	close(g.ch)
}

// Running reports whether the gate is open.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
