// Package rendezvous provides the one-shot boolean a controller and a worker
// use to meet at a checkpoint.
//
// A Flag starts false, is set exactly once and is never reset. Waiters always
// re-check the predicate after waking, so a spurious or lost wakeup cannot
// release them early or strand them.
package rendezvous

import (
	"context"
	"sync"
	"time"
)

type Flag struct {
	mu   sync.Mutex
	cond *sync.Cond
	set  bool
	done chan struct{}
}

func New() *Flag {
	f := &Flag{done: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Set marks the flag and wakes every waiter. Calls after the first are no-ops.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	close(f.done)
	f.cond.Broadcast()
}

func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait blocks until the flag is set.
func (f *Flag) Wait() {
	f.mu.Lock()
	for !f.set {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

// WaitContext blocks until the flag is set or ctx ends.
func (f *Flag) WaitContext(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	default:
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout reports whether the flag was set within d.
func (f *Flag) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return true
	case <-timer.C:
		return f.IsSet()
	}
}

// Done is closed once the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
