// Package blocking wraps the blocking calls a worker parks in while a
// controller pokes it.
//
// Each Primitive blocks for a nominal duration and reports whether it returned
// early because a signal reached the calling thread. Kernel primitives only
// observe ctx before and after the system call; the Go-native ones select on
// it. Sleep is the one primitive a handled signal cannot cut short.
package blocking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

type Result struct {
	Interrupted bool
	Remaining   time.Duration
}

type Primitive interface {
	Name() string
	Block(ctx context.Context, d time.Duration) (Result, error)
}

const (
	NameNanosleep      = "nanosleep"
	NameClockNanosleep = "clock_nanosleep"
	NameSelect         = "select"
	NameNotify         = "notify"
	NameSleep          = "sleep"
)

var constructors = map[string]func(sig unix.Signal) Primitive{
	NameNanosleep:      func(unix.Signal) Primitive { return Nanosleep{} },
	NameClockNanosleep: func(unix.Signal) Primitive { return ClockNanosleep{} },
	NameSelect:         func(unix.Signal) Primitive { return Select{} },
	NameNotify:         func(sig unix.Signal) Primitive { return NewNotify(sig) },
	NameSleep:          func(unix.Signal) Primitive { return Sleep{} },
}

// ByName returns the primitive called name. sig is only
// used by primitives that listen for a specific signal.
func ByName(name string, sig unix.Signal) (Primitive, error) {
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown primitive %q (valid: %v)", name, Names())
	}
	return c(sig), nil
}

// Names lists the primitives in the order the sleep scenario runs them by
// default.
func Names() []string {
	order := map[string]int{NameNanosleep: 0, NameClockNanosleep: 1, NameSelect: 2, NameNotify: 3, NameSleep: 4}
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return order[names[i]] < order[names[j]] })
	return names
}

// Restarts reports whether the primitive called name resumes after a handled
// signal instead of returning early.
func Restarts(name string) bool {
	return name == NameSleep
}

func remaining(start time.Time, d time.Duration) time.Duration {
	left := d - time.Since(start)
	if left < 0 {
		return 0
	}
	return left
}
