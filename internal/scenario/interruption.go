package scenario

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sigprobe/sigprobe/internal/blocking"
	"github.com/sigprobe/sigprobe/internal/harness"
	"github.com/sigprobe/sigprobe/internal/logger"
	"github.com/sigprobe/sigprobe/internal/sigctl"
)

// Interruption puts a pinned worker to sleep in each primitive and pokes its
// thread with a signal, optionally after masking that signal on the thread.
type Interruption struct {
	Title      string
	Primitives []string
	Masks      []bool
	// ShowMask adds the masked/unmasked sentence to every line.
	ShowMask bool
	Period   time.Duration
	Signal   unix.Signal
	Env      Env
}

func (s *Interruption) Name() string {
	return s.Title
}

func (s *Interruption) Run(ctx context.Context) (*Report, error) {
	if err := sigctl.ValidateSignal(int(s.Signal)); err != nil {
		return nil, fmt.Errorf("trigger signal: %w", err)
	}
	prims := make([]blocking.Primitive, 0, len(s.Primitives))
	for _, name := range s.Primitives {
		p, err := blocking.ByName(name, s.Signal)
		if err != nil {
			return nil, err
		}
		prims = append(prims, p)
	}
	masks := s.Masks
	if len(masks) == 0 {
		masks = []bool{false}
	}

	stop, err := sigctl.Catch(s.Signal)
	if err != nil {
		return nil, fmt.Errorf("install %s handler: %w", sigctl.Name(s.Signal), err)
	}
	defer stop()

	report := newReport(s.Title)
	for _, p := range prims {
		for _, masked := range masks {
			res, err := s.runOne(ctx, p, masked)
			if err != nil {
				return nil, err
			}
			report.Results = append(report.Results, res)
			report.Lines = append(report.Lines, s.line(res))
		}
	}
	return report.finish(), nil
}

func (s *Interruption) runOne(ctx context.Context, p blocking.Primitive, masked bool) (Result, error) {
	name := p.Name()
	if masked {
		name += "/masked"
	}

	h, err := harness.Spawn(ctx, name, func(sess *harness.Session) (harness.State, error) {
		if masked {
			if _, err := sess.Thread().Block(s.Signal); err != nil {
				return harness.StateFailed, err
			}
		}
		sess.MarkReady()
		res, err := p.Block(sess.Context(), s.Period)
		if err != nil {
			return harness.StateFailed, err
		}
		if res.Interrupted {
			return harness.StateInterrupted, nil
		}
		return harness.StateCompleted, nil
	}, s.Env.options(s.Title, true))
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}

	if err := h.AwaitBlocked(ctx, s.Env.options(s.Title, true).Timeout); err != nil {
		logger.Debug("Worker not observed asleep before trigger", zap.String("worker", name), zap.Error(err))
	}
	if err := h.Trigger(harness.TriggerSignal, s.Signal); err != nil {
		h.RequestCancellation()
		return Result{}, err
	}
	if _, err := h.AwaitCompletion(ctx); err != nil {
		return Result{}, err
	}
	out, err := h.Join()
	if err != nil {
		return Result{}, err
	}
	if out.Err != nil {
		return Result{}, out.Err
	}

	res := resultFrom(out)
	res.Primitive = p.Name()
	res.Masked = masked
	res.Nominal = s.Period
	s.Env.audit(&res)
	return res, nil
}

func (s *Interruption) line(r Result) string {
	line := fmt.Sprintf("Thread was going to sleep for %s using %s function, but tried to be interrupted by signal and executed for %f seconds.",
		formatPeriod(r.Nominal), r.Primitive, r.Elapsed.Seconds())
	if s.ShowMask {
		if r.Masked {
			line += " The signal was masked."
		} else {
			line += " The signal wasn't masked."
		}
	}
	return line
}
