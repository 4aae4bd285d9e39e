package harness

import (
	"context"
	"sync"
)

// CancelGate lets a worker defer cancellation across a critical section.
//
// While disabled, Context returns a context detached from cancellation, so a
// request stays queued on the underlying context. Enable reports it at once.
type CancelGate struct {
	mu       sync.Mutex
	ctx      context.Context
	detached context.Context
	disabled bool
}

func newCancelGate(ctx context.Context) *CancelGate {
	return &CancelGate{ctx: ctx, detached: context.WithoutCancel(ctx)}
}

func (g *CancelGate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled = true
}

// Enable re-arms cancellation and returns the pending request, if any.
func (g *CancelGate) Enable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled = false
	return g.ctx.Err()
}

func (g *CancelGate) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}

// Pending reports whether cancellation has been requested, whether or not the
// gate lets it through.
func (g *CancelGate) Pending() bool {
	return g.ctx.Err() != nil
}

func (g *CancelGate) Context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled {
		return g.detached
	}
	return g.ctx
}
