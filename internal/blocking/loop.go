package blocking

import (
	"context"
	"time"
)

// SleepLoop sleeps in tick-sized steps forever. Only cancellation of ctx ends
// it; the nominal duration passed to Block is ignored.
type SleepLoop struct {
	Tick time.Duration
	// OnTick, if set, runs after every completed tick.
	OnTick func()
}

func (l SleepLoop) Name() string { return "sleep_loop" }

func (l SleepLoop) Block(ctx context.Context, _ time.Duration) (Result, error) {
	tick := l.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
			if l.OnTick != nil {
				l.OnTick()
			}
		}
	}
}
