package blocking

import (
	"context"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"
)

// Notify waits on a timer and an os/signal channel for one signal. It is the
// Go-native way to make a sleep end early on a signal.
//
// A signal blocked on the calling thread stays pending there and never reaches
// the channel, so masking works the same as for the kernel primitives.
type Notify struct {
	sig unix.Signal
}

func NewNotify(sig unix.Signal) *Notify {
	return &Notify{sig: sig}
}

func (n *Notify) Name() string { return NameNotify }

func (n *Notify) Block(ctx context.Context, d time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, n.sig)
	defer signal.Stop(ch)

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return Result{}, nil
	case <-ch:
		return Result{Interrupted: true, Remaining: remaining(start, d)}, nil
	case <-ctx.Done():
		return Result{Remaining: remaining(start, d)}, ctx.Err()
	}
}
