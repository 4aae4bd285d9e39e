package blocking

import (
	"context"
	"time"
)

// Sleep parks on a runtime timer the way time.Sleep does. The runtime retries
// its futex wait after a handler runs, so a caught signal never shortens the
// sleep and Interrupted is always false.
type Sleep struct{}

func (Sleep) Name() string { return NameSleep }

func (Sleep) Block(ctx context.Context, d time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return Result{}, nil
	case <-ctx.Done():
		return Result{Remaining: remaining(start, d)}, ctx.Err()
	}
}
