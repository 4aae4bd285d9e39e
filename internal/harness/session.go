package harness

import (
	"context"
	"sync/atomic"

	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/rendezvous"
	"github.com/sigprobe/sigprobe/internal/sigctl"
)

// WorkerFunc is the body of a worker. It returns the terminal state it reached;
// returning context.Canceled (or wrapping it) records StateCanceled and any
// other error records StateFailed.
type WorkerFunc func(s *Session) (State, error)

// Session is the worker's side of a Handle.
type Session struct {
	h      *Handle
	gate   *CancelGate
	ready  *rendezvous.Flag
	flip   *rendezvous.Flag
	thread *sigctl.Thread
	state  atomic.Int32
	steps  atomic.Uint64
}

func (s *Session) Name() string {
	return s.h.name
}

// Context is the worker's cancellation context, detached while the gate is
// disabled.
func (s *Session) Context() context.Context {
	return s.gate.Context()
}

func (s *Session) Gate() *CancelGate {
	return s.gate
}

// Thread is the pinned OS thread, or nil when Options.PinThread is unset.
func (s *Session) Thread() *sigctl.Thread {
	return s.thread
}

// MarkReady sets the ready rendezvous. The worker is Running afterwards.
func (s *Session) MarkReady() {
	if s.ready.IsSet() {
		return
	}
	s.state.Store(int32(StateReady))
	s.h.markReady()
	s.ready.Set()
	s.state.CompareAndSwap(int32(StateReady), int32(StateRunning))
}

// Flipped is closed once the controller flips the cooperative flag.
func (s *Session) Flipped() <-chan struct{} {
	return s.flip.Done()
}

// SetState publishes a pause or a return to running. Other states are set by
// the harness and are ignored here.
func (s *Session) SetState(st State) {
	var t events.EventType
	switch st {
	case StatePaused:
		t = events.EventPaused
	case StateRunning:
		t = events.EventResumed
	default:
		return
	}
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.h.emit(s.h.event(t))
}

// Step advances the progress counter and returns the new value.
func (s *Session) Step() uint64 {
	return s.steps.Add(1)
}

func (s *Session) Steps() uint64 {
	return s.steps.Load()
}

// Released records that a scoped resource was destroyed.
func (s *Session) Released(resource string) {
	e := s.h.event(events.EventReleased)
	e.Target = resource
	s.h.emit(e)
}
