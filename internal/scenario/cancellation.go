package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/sigprobe/sigprobe/internal/blocking"
	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/harness"
	"github.com/sigprobe/sigprobe/internal/rendezvous"
)

const staticResource = "Static Object"

// Cancellation parks four workers in different blocking calls and cancels
// them in order. The fourth disables cancellation until the controller lets
// it continue, so its termination is deferred.
type Cancellation struct {
	Period time.Duration
	// Tick is the sleep loop step. Zero means config.LoopTick.
	Tick time.Duration
	Env  Env
}

func (s *Cancellation) Name() string {
	return "cancel"
}

type cancelRun struct {
	s       *Cancellation
	journal *Journal
	mutex   *blocking.TimedMutex
	// continued is the worker's acknowledgment that it left the critical
	// section. Only worker 4 sets it.
	continued *rendezvous.Flag
}

func (s *Cancellation) Run(ctx context.Context) (*Report, error) {
	report := newReport(s.Name())
	run := &cancelRun{
		s:         s,
		journal:   &Journal{},
		mutex:     blocking.NewTimedMutex(),
		continued: rendezvous.New(),
	}
	static := run.journal.Acquire(staticResource, nil)
	defer static.Release()

	workers := []harness.WorkerFunc{run.worker1, run.worker2, run.worker3, run.worker4}
	handles := make([]*harness.Handle, 0, len(workers))
	abort := func() {
		for _, h := range handles {
			h.Flip()
			h.RequestCancellation()
		}
	}

	locked := false
	unlock := func() {
		if locked {
			run.mutex.Unlock()
			locked = false
		}
	}
	defer unlock()

	for i, fn := range workers {
		if i == 1 {
			if err := run.mutex.Lock(ctx); err != nil {
				abort()
				return nil, fmt.Errorf("lock obstruction mutex: %w", err)
			}
			locked = true
		}
		h, err := harness.Spawn(ctx, fmt.Sprintf("worker %d", i+1), fn, s.Env.options(s.Name(), false))
		if err != nil {
			abort()
			return nil, err
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		if err := h.Trigger(harness.TriggerCancel, 0); err != nil {
			abort()
			return nil, err
		}
	}

	for _, h := range handles[:3] {
		if _, err := h.AwaitCompletion(ctx); err != nil {
			abort()
			return nil, err
		}
	}

	last := handles[3]
	deferred := !last.State().Terminal()

	last.Flip()
	waitCtx, cancel := context.WithTimeout(ctx, s.Env.options(s.Name(), false).Timeout)
	defer cancel()
	if err := run.continued.WaitContext(waitCtx); err != nil {
		abort()
		return nil, fmt.Errorf("worker 4 never left its critical section: %w", err)
	}
	if _, err := last.AwaitCompletion(ctx); err != nil {
		abort()
		return nil, err
	}

	for i, h := range handles {
		out, err := h.Join()
		if err != nil {
			return nil, err
		}
		if out.Err != nil {
			return nil, out.Err
		}
		res := resultFrom(out)
		res.Primitive = cancelPrimitives[i]
		res.Nominal = s.Period
		if i == 3 {
			res.Deferred = deferred && run.continued.IsSet()
		}
		report.Results = append(report.Results, res)
		report.Lines = append(report.Lines, cancelLine(i, res))
	}

	unlock()
	static.Release()
	report.Journal = run.journal.Entries()
	report.Lines = append(report.Lines, report.Journal...)

	if report.Results[3].Deferred {
		report.linef("disabling cancellation prevented termination of worker")
	} else {
		report.linef("disabling cancellation failed to prevent termination of worker")
	}
	return report.finish(), nil
}

var cancelPrimitives = []string{"cond_timedwait", "timed_mutex", "sleep_loop", "sleep_loop"}

func cancelLine(i int, r Result) string {
	var what, verb string
	switch i {
	case 0:
		what, verb = "condition wait", "interrupted"
	case 1:
		what, verb = "timed mutex acquisition with locked mutex", "canceled"
	case 2:
		what, verb = "sleep loop", "canceled"
	default:
		what, verb = "sleep loop behind disabled cancellation", "canceled"
	}
	if !r.Canceled {
		return fmt.Sprintf("Worker %d. %s wasn't %s by cancellation and ended %s after %f seconds.", i+1, what, verb, r.State, r.Elapsed.Seconds())
	}
	if r.Deferred {
		return fmt.Sprintf("Worker %d. %s was %s by cancellation after %f seconds, after cancellation was re-enabled.", i+1, what, verb, r.Elapsed.Seconds())
	}
	return fmt.Sprintf("Worker %d. %s was %s by cancellation after %f seconds.", i+1, what, verb, r.Elapsed.Seconds())
}

func (r *cancelRun) tick() time.Duration {
	if r.s.Tick > 0 {
		return r.s.Tick
	}
	return config.LoopTick
}

func (r *cancelRun) worker1(sess *harness.Session) (harness.State, error) {
	sess.MarkReady()
	if _, err := blocking.NewCondWait(nil).Block(sess.Context(), r.s.Period); err != nil {
		return harness.StateCanceled, err
	}
	return harness.StateCompleted, nil
}

func (r *cancelRun) worker2(sess *harness.Session) (harness.State, error) {
	sess.MarkReady()
	acquired, err := r.mutex.TryLockFor(sess.Context(), r.s.Period)
	if err != nil {
		return harness.StateCanceled, err
	}
	if acquired {
		r.mutex.Unlock()
	}
	return harness.StateCompleted, nil
}

func (r *cancelRun) worker3(sess *harness.Session) (harness.State, error) {
	outer := r.journal.Acquire("Local Object. Worker 3. First stack frame", sess)
	defer outer.Release()
	return r.worker3Inner(sess)
}

func (r *cancelRun) worker3Inner(sess *harness.Session) (harness.State, error) {
	inner := r.journal.Acquire("Local Object. Worker 3. Second stack frame", sess)
	defer inner.Release()

	sess.MarkReady()
	_, err := blocking.SleepLoop{Tick: r.tick(), OnTick: func() { sess.Step() }}.Block(sess.Context(), 0)
	return harness.StateCanceled, err
}

func (r *cancelRun) worker4(sess *harness.Session) (harness.State, error) {
	outer := r.journal.Acquire("Local Object. Worker 4. First stack frame", sess)
	defer outer.Release()
	return r.worker4Critical(sess)
}

func (r *cancelRun) worker4Critical(sess *harness.Session) (harness.State, error) {
	inner := r.journal.Acquire("Local Object. Worker 4. Second stack frame", sess)
	defer inner.Release()

	gate := sess.Gate()
	gate.Disable()
	sess.MarkReady()

	<-sess.Flipped()
	r.continued.Set()

	if err := gate.Enable(); err != nil {
		return harness.StateCanceled, err
	}
	_, err := blocking.SleepLoop{Tick: r.tick(), OnTick: func() { sess.Step() }}.Block(sess.Context(), 0)
	return harness.StateCanceled, err
}
