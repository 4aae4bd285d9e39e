package scenario

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/harness"
	"github.com/sigprobe/sigprobe/internal/rendezvous"
	"github.com/sigprobe/sigprobe/internal/sigctl"
)

// Pause drives a pinned worker through suspend and resume signals. The worker
// mutes the suspend signal for its first phase and unmutes it for the second.
type Pause struct {
	Suspend unix.Signal
	Resume  unix.Signal
	// ProgressRate caps the progress dots per second. Zero means
	// config.ProgressRate.
	ProgressRate int
	// Observe is how long the controller watches for a pause after the muted
	// suspend.
	Observe time.Duration
	// Stall is how long the step counter must stay still while paused.
	Stall time.Duration
	Env   Env
}

func (s *Pause) Name() string {
	return "pause"
}

type pauseRun struct {
	s         *Pause
	susp      *sigctl.Suspender
	stop1     *rendezvous.Flag
	unmuted   *rendezvous.Flag
	pauses    atomic.Uint64
	wasPaused atomic.Bool
}

func (s *Pause) Run(ctx context.Context) (*Report, error) {
	susp, err := sigctl.NewSuspender(s.Suspend, s.Resume)
	if err != nil {
		return nil, fmt.Errorf("make worker suspendable: %w", err)
	}
	defer susp.Close()

	run := &pauseRun{s: s, susp: susp, stop1: rendezvous.New(), unmuted: rendezvous.New()}
	opts := s.Env.options(s.Name(), true)
	h, err := harness.Spawn(ctx, "worker", run.worker, opts)
	if err != nil {
		return nil, err
	}
	abort := func(err error) (*Report, error) {
		run.stop1.Set()
		h.Flip()
		h.RequestCancellation()
		return nil, err
	}

	report := newReport(s.Name())
	report.linef("Thread muted suspend signal")

	send := func(sig unix.Signal, what string) error {
		report.linef("main sends %s signal", what)
		return h.Signal(sig)
	}

	// A resume outside a pause is discarded.
	stale := susp.StaleResumes()
	if err := send(s.Resume, "resume"); err != nil {
		return abort(err)
	}
	if err := run.awaitStale(ctx, h, stale, opts.Timeout); err != nil {
		return abort(err)
	}

	// The muted suspend must not pause the worker.
	before := run.pauses.Load()
	if err := send(s.Suspend, "suspend"); err != nil {
		return abort(err)
	}
	if err := run.observeNoPause(ctx, h); err != nil {
		return abort(err)
	}
	mutedNoEffect := run.pauses.Load() == before

	stale = susp.StaleResumes()
	if err := send(s.Resume, "resume"); err != nil {
		return abort(err)
	}
	if err := run.awaitStale(ctx, h, stale, opts.Timeout); err != nil {
		return abort(err)
	}

	report.linef("main sets stopPhase1 flag")
	run.stop1.Set()
	if err := waitFlag(ctx, run.unmuted, opts.Timeout); err != nil {
		return abort(fmt.Errorf("worker never unmuted: %w", err))
	}
	report.linef("Thread unmuted suspend signal")

	if err := send(s.Suspend, "suspend"); err != nil {
		return abort(err)
	}
	paused, err := run.awaitPaused(ctx, h, opts.Timeout)
	if err != nil {
		return abort(err)
	}

	if err := send(s.Resume, "resume"); err != nil {
		return abort(err)
	}
	if paused {
		err := wait.PollUntilContextTimeout(ctx, config.DefaultPollInterval, opts.Timeout, true, func(context.Context) (bool, error) {
			return h.State() != harness.StatePaused, nil
		})
		if err != nil {
			return abort(fmt.Errorf("worker never resumed: %w", err))
		}
	}

	report.linef("main sets stopPhase2 flag")
	if err := h.Trigger(harness.TriggerFlag, 0); err != nil {
		return abort(err)
	}
	if _, err := h.AwaitCompletion(ctx); err != nil {
		return abort(err)
	}
	out, err := h.Join()
	if err != nil {
		return nil, err
	}
	if out.Err != nil {
		return nil, out.Err
	}
	fmt.Fprintln(s.Env.progress())

	res := resultFrom(out)
	res.Paused = paused && run.wasPaused.Load()
	res.MutedNoEffect = mutedNoEffect
	res.Signal = int(s.Suspend)
	s.Env.audit(&res)
	report.Results = append(report.Results, res)

	if res.Paused {
		report.linef("Thread was successfully paused.")
	} else {
		report.linef("Thread wasn't paused.")
	}
	if res.MutedNoEffect {
		report.linef("Suspend while muted had no effect.")
	} else {
		report.linef("Suspend while muted paused the thread.")
	}
	return report.finish(), nil
}

func (r *pauseRun) worker(sess *harness.Session) (harness.State, error) {
	r.susp.Mute()
	sess.MarkReady()

	n := r.s.ProgressRate
	if n <= 0 {
		n = config.ProgressRate
	}
	limiter := rate.NewLimiter(rate.Limit(n), 1)
	progress := r.s.Env.progress()

	onPause := func() {
		r.pauses.Add(1)
		r.wasPaused.Store(true)
		sess.SetState(harness.StatePaused)
	}
	onResume := func() {
		sess.SetState(harness.StateRunning)
	}
	phase := func(stop <-chan struct{}) error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			if _, err := r.susp.Checkpoint(sess.Context(), onPause, onResume); err != nil {
				return err
			}
			sess.Step()
			if limiter.Allow() {
				fmt.Fprint(progress, ".")
			}
			runtime.Gosched()
		}
	}

	if err := phase(r.stop1.Done()); err != nil {
		return harness.StateCanceled, err
	}
	r.susp.Unmute()
	r.unmuted.Set()
	if err := phase(sess.Flipped()); err != nil {
		return harness.StateCanceled, err
	}
	return harness.StateCompleted, nil
}

// awaitStale waits until the worker has discarded one more resume and taken
// two more steps, or until it paused instead.
func (r *pauseRun) awaitStale(ctx context.Context, h *harness.Handle, stale uint64, timeout time.Duration) error {
	pauses := r.pauses.Load()
	var target uint64
	err := wait.PollUntilContextTimeout(ctx, config.DefaultPollInterval, timeout, true, func(context.Context) (bool, error) {
		if r.pauses.Load() != pauses {
			return true, nil
		}
		if r.susp.StaleResumes() <= stale {
			return false, nil
		}
		if target == 0 {
			target = h.Steps() + 2
		}
		return h.Steps() >= target, nil
	})
	if err != nil {
		return fmt.Errorf("worker never discarded the resume: %w", err)
	}
	return nil
}

// observeNoPause watches the worker for the observation window. Seeing it
// pause ends the window early; that outcome is reported, not returned.
func (r *pauseRun) observeNoPause(ctx context.Context, h *harness.Handle) error {
	window := r.s.Observe
	if window <= 0 {
		window = config.DefaultMutedObservation
	}
	pauses := r.pauses.Load()
	err := wait.PollUntilContextTimeout(ctx, config.DefaultPollInterval, window, true, func(context.Context) (bool, error) {
		return r.pauses.Load() != pauses || h.State() == harness.StatePaused, nil
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// awaitPaused reports whether the worker reached Paused and its step counter
// then stayed still for the stall window.
func (r *pauseRun) awaitPaused(ctx context.Context, h *harness.Handle, timeout time.Duration) (bool, error) {
	err := wait.PollUntilContextTimeout(ctx, config.DefaultPollInterval, timeout, true, func(context.Context) (bool, error) {
		return h.State() == harness.StatePaused, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}

	stall := r.s.Stall
	if stall <= 0 {
		stall = config.DefaultStallObservation
	}
	steps := h.Steps()
	select {
	case <-time.After(stall):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return h.Steps() == steps && h.State() == harness.StatePaused, nil
}

func waitFlag(ctx context.Context, f *rendezvous.Flag, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f.WaitContext(waitCtx)
}
