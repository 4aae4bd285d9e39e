package sigctl

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

var ErrInvalidSignal = errors.New("invalid signal")

// SigsetAdd sets the bit for sig. Signals are numbered from 1.
func SigsetAdd(set *unix.Sigset_t, sig unix.Signal) {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	set.Val[n/bits] |= 1 << (n % bits)
}

func SigsetHas(set *unix.Sigset_t, sig unix.Signal) bool {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	return set.Val[n/bits]&(1<<(n%bits)) != 0
}

// reserved are signals that cannot be caught, are used by glibc, or that the
// Go runtime turns into a crash, an exit or its own bookkeeping.
var reserved = map[unix.Signal]string{
	unix.SIGKILL:   "cannot be caught",
	unix.SIGSTOP:   "cannot be caught",
	unix.SIGSEGV:   "synchronous fault",
	unix.SIGBUS:    "synchronous fault",
	unix.SIGFPE:    "synchronous fault",
	unix.SIGILL:    "synchronous fault",
	unix.SIGTRAP:   "synchronous fault",
	unix.SIGABRT:   "terminates with stack dump",
	unix.SIGQUIT:   "terminates with stack dump",
	unix.SIGSYS:    "terminates with stack dump",
	unix.SIGSTKFLT: "terminates with stack dump",
	unix.SIGINT:    "terminates the process",
	unix.SIGTERM:   "terminates the process",
	unix.SIGHUP:    "terminates the process",
	unix.SIGPROF:   "used by the runtime profiler",
	unix.SIGURG:    "used by the runtime scheduler",
	unix.SIGCHLD:   "child status",
	unix.SIGPIPE:   "broken pipe",
	unix.SIGTSTP:   "job control",
	unix.SIGTTIN:   "job control",
	unix.SIGTTOU:   "job control",
	unix.Signal(32): "reserved by glibc",
	unix.Signal(33): "reserved by glibc",
}

// ValidateSignal accepts signals a worker can safely be poked with.
func ValidateSignal(sig int) error {
	if sig < 1 || sig > 64 {
		return fmt.Errorf("%w: %d is outside 1..64", ErrInvalidSignal, sig)
	}
	if why, ok := reserved[unix.Signal(sig)]; ok {
		return fmt.Errorf("%w: %d (%s)", ErrInvalidSignal, sig, why)
	}
	return nil
}

// Name returns the conventional name of sig, using SIGRTMIN+n for realtime
// signals as glibc numbers them.
func Name(sig unix.Signal) string {
	if sig >= 34 && sig <= 64 {
		if sig == 34 {
			return "SIGRTMIN"
		}
		return fmt.Sprintf("SIGRTMIN+%d", int(sig)-34)
	}
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}
