package blocking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Nanosleep parks the thread in nanosleep(2). A handled signal ends it with
// EINTR and the kernel reports the time left.
type Nanosleep struct{}

func (Nanosleep) Name() string { return NameNanosleep }

func (Nanosleep) Block(ctx context.Context, d time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	req := unix.NsecToTimespec(d.Nanoseconds())
	var left unix.Timespec
	err := unix.Nanosleep(&req, &left)
	switch {
	case err == nil:
		return Result{}, nil
	case errors.Is(err, unix.EINTR):
		return Result{Interrupted: true, Remaining: time.Duration(left.Nano())}, nil
	default:
		return Result{}, fmt.Errorf("nanosleep: %w", err)
	}
}

// ClockNanosleep is a relative sleep on CLOCK_MONOTONIC.
type ClockNanosleep struct{}

func (ClockNanosleep) Name() string { return NameClockNanosleep }

func (ClockNanosleep) Block(ctx context.Context, d time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	req := unix.NsecToTimespec(d.Nanoseconds())
	var left unix.Timespec
	err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, 0, &req, &left)
	switch {
	case err == nil:
		return Result{}, nil
	case errors.Is(err, unix.EINTR):
		return Result{Interrupted: true, Remaining: time.Duration(left.Nano())}, nil
	default:
		return Result{}, fmt.Errorf("clock_nanosleep: %w", err)
	}
}

// Select sleeps in select(2) with no descriptors, the way usleep is commonly
// built. It is never restarted after a handler runs.
type Select struct{}

func (Select) Name() string { return NameSelect }

func (Select) Block(ctx context.Context, d time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	tv := unix.NsecToTimeval(d.Nanoseconds())
	_, err := unix.Select(0, nil, nil, nil, &tv)
	switch {
	case err == nil:
		return Result{}, nil
	case errors.Is(err, unix.EINTR):
		return Result{Interrupted: true, Remaining: remaining(start, d)}, nil
	default:
		return Result{}, fmt.Errorf("select: %w", err)
	}
}
