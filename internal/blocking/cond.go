package blocking

import (
	"context"
	"time"

	"github.com/sigprobe/sigprobe/internal/rendezvous"
)

// CondWait is a timed wait on a flag. Only a timeout or cancellation of ctx
// ends it unless someone sets the flag.
type CondWait struct {
	flag *rendezvous.Flag
}

func NewCondWait(flag *rendezvous.Flag) *CondWait {
	if flag == nil {
		flag = rendezvous.New()
	}
	return &CondWait{flag: flag}
}

func (c *CondWait) Name() string { return "cond_timedwait" }

func (c *CondWait) Block(ctx context.Context, d time.Duration) (Result, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := c.flag.WaitContext(waitCtx)
	if err == nil {
		return Result{Remaining: remaining(start, d)}, nil
	}
	if ctx.Err() != nil {
		return Result{Remaining: remaining(start, d)}, ctx.Err()
	}
	return Result{}, nil
}
