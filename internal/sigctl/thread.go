package sigctl

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Thread identifies the OS thread a worker goroutine is locked to.
//
// Pin never unlocks: when the goroutine returns, the runtime terminates the
// thread instead of handing it back to the scheduler with a modified mask.
type Thread struct {
	pid int
	tid int
}

// Pin locks the calling goroutine to its current OS thread and records it.
func Pin() *Thread {
	runtime.LockOSThread()
	return &Thread{pid: unix.Getpid(), tid: unix.Gettid()}
}

func (t *Thread) TID() int {
	return t.tid
}

func (t *Thread) PID() int {
	return t.pid
}

// Signal delivers sig to this thread only.
func (t *Thread) Signal(sig unix.Signal) error {
	if err := unix.Tgkill(t.pid, t.tid, sig); err != nil {
		return fmt.Errorf("tgkill tid %d signal %d: %w", t.tid, int(sig), err)
	}
	return nil
}

// Block adds sigs to the calling thread's signal mask and returns a function
// restoring the previous mask. It must run on the pinned goroutine.
func (t *Thread) Block(sigs ...unix.Signal) (func() error, error) {
	var set, old unix.Sigset_t
	for _, sig := range sigs {
		SigsetAdd(&set, sig)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old); err != nil {
		return nil, fmt.Errorf("pthread_sigmask block: %w", err)
	}
	return func() error {
		if err := unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil); err != nil {
			return fmt.Errorf("pthread_sigmask restore: %w", err)
		}
		return nil
	}, nil
}

// Unblock removes sigs from the calling thread's signal mask.
func (t *Thread) Unblock(sigs ...unix.Signal) error {
	var set unix.Sigset_t
	for _, sig := range sigs {
		SigsetAdd(&set, sig)
	}
	if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil); err != nil {
		return fmt.Errorf("pthread_sigmask unblock: %w", err)
	}
	return nil
}

// Blocked reports whether sig is in the calling thread's signal mask.
func (t *Thread) Blocked(sig unix.Signal) (bool, error) {
	var cur unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, nil, &cur); err != nil {
		return false, fmt.Errorf("pthread_sigmask query: %w", err)
	}
	return SigsetHas(&cur, sig), nil
}
