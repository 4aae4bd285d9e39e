package sigctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Suspender pauses a cooperative worker between a suspend signal and the next
// resume signal.
//
// The pause happens at the worker's own checkpoints, never inside a signal
// handler. A resume that arrives while the worker is not paused is discarded.
// While muted, the suspend signal is ignored process-wide, so the kernel drops
// it and unmuting does not replay it.
type Suspender struct {
	suspend   unix.Signal
	resume    unix.Signal
	suspendCh chan os.Signal
	resumeCh  chan os.Signal

	stale  atomic.Uint64
	mu     sync.Mutex
	muted  bool
	closed bool
}

func NewSuspender(suspend, resume unix.Signal) (*Suspender, error) {
	if err := ValidateSignal(int(suspend)); err != nil {
		return nil, fmt.Errorf("suspend signal: %w", err)
	}
	if err := ValidateSignal(int(resume)); err != nil {
		return nil, fmt.Errorf("resume signal: %w", err)
	}
	if suspend == resume {
		return nil, fmt.Errorf("%w: suspend and resume must differ", ErrInvalidSignal)
	}

	s := &Suspender{
		suspend:   suspend,
		resume:    resume,
		suspendCh: make(chan os.Signal, 1),
		resumeCh:  make(chan os.Signal, 1),
	}
	signal.Notify(s.resumeCh, resume)
	signal.Notify(s.suspendCh, suspend)
	return s, nil
}

func (s *Suspender) SuspendSignal() unix.Signal {
	return s.suspend
}

func (s *Suspender) ResumeSignal() unix.Signal {
	return s.resume
}

// Mute makes the suspend signal a no-op until Unmute.
func (s *Suspender) Mute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muted || s.closed {
		return
	}
	signal.Ignore(s.suspend)
	s.muted = true
}

func (s *Suspender) Unmute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.muted || s.closed {
		return
	}
	signal.Notify(s.suspendCh, s.suspend)
	s.muted = false
}

func (s *Suspender) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Checkpoint pauses the caller if a suspend is pending, calling onPause before
// blocking and onResume after the resume arrives. It reports whether a pause
// happened. Without a pending suspend it discards stale resumes and returns.
func (s *Suspender) Checkpoint(ctx context.Context, onPause, onResume func()) (bool, error) {
	select {
	case <-s.suspendCh:
	default:
		s.drainResume()
		return false, nil
	}

	if onPause != nil {
		onPause()
	}
	select {
	case <-s.resumeCh:
	case <-ctx.Done():
		return true, ctx.Err()
	}
	if onResume != nil {
		onResume()
	}
	return true, nil
}

func (s *Suspender) drainResume() {
	for {
		select {
		case <-s.resumeCh:
			s.stale.Add(1)
		default:
			return
		}
	}
}

// StaleResumes counts resume signals discarded because nothing was paused.
func (s *Suspender) StaleResumes() uint64 {
	return s.stale.Load()
}

// Close unmutes the suspend signal and stops delivery of both signals.
func (s *Suspender) Close() {
	s.Unmute()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	signal.Stop(s.suspendCh)
	signal.Stop(s.resumeCh)
}
