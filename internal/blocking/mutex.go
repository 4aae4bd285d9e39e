package blocking

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// TimedMutex is a mutex whose acquisition can time out or be cancelled.
type TimedMutex struct {
	sem *semaphore.Weighted
}

func NewTimedMutex() *TimedMutex {
	return &TimedMutex{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the mutex is held or ctx ends.
func (m *TimedMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// TryLockFor waits at most d for the mutex. A timeout is reported as
// acquired=false with a nil error; cancellation of ctx returns ctx's error.
func (m *TimedMutex) TryLockFor(ctx context.Context, d time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := m.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (m *TimedMutex) Unlock() {
	m.sem.Release(1)
}
