// Package harness runs one controller/worker interaction at a time: spawn,
// wait for ready, trigger, wait for done, join.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/logger"
	"github.com/sigprobe/sigprobe/internal/rendezvous"
	"github.com/sigprobe/sigprobe/internal/sigctl"
)

type Options struct {
	// PinThread locks the worker to an OS thread for its whole life, which
	// thread-directed signals and signal masks need.
	PinThread bool
	// Timeout bounds the wait for the ready rendezvous. Zero means
	// config.RendezvousTimeout.
	Timeout  time.Duration
	Sink     chan<- *events.Event
	Scenario string
}

// Outcome is what the controller learns about a worker after Join.
type Outcome struct {
	Worker    string
	RunID     string
	TID       int
	State     State
	Trigger   TriggerKind
	Signal    int
	Started   time.Time
	Ready     time.Time
	Triggered time.Time
	Finished  time.Time
	// Elapsed runs from the trigger, or from ready without one, to completion.
	Elapsed time.Duration
	Steps   uint64
	Err     error
}

// Handle is the controller's side of a running worker.
type Handle struct {
	name    string
	runID   string
	opts    Options
	session *Session
	cancel  context.CancelFunc
	done    *rendezvous.Flag
	log     *zap.Logger

	mu        sync.Mutex
	triggered bool
	joined    bool
	outcome   Outcome
}

// Spawn starts fn on its own goroutine and blocks until it marks itself ready.
// It fails if the worker returns first, if ctx ends or if the ready timeout
// elapses; in every failure case the worker's context is cancelled.
func Spawn(ctx context.Context, name string, fn WorkerFunc, opts Options) (*Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("spawn %q: nil worker function", name)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.RendezvousTimeout
	}

	wctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		name:   name,
		runID:  uuid.NewString(),
		opts:   opts,
		cancel: cancel,
		done:   rendezvous.New(),
	}
	h.log = logger.Named("harness", zap.String("scenario", opts.Scenario), zap.String("worker", name), zap.String("run_id", h.runID))
	h.session = &Session{
		h:     h,
		gate:  newCancelGate(wctx),
		ready: rendezvous.New(),
		flip:  rendezvous.New(),
	}
	h.outcome = Outcome{Worker: name, RunID: h.runID, Started: time.Now()}

	h.emit(h.event(events.EventSpawn))
	go h.run(fn)

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()
	select {
	case <-h.session.ready.Done():
		return h, nil
	case <-h.done.Done():
		if h.session.ready.IsSet() {
			return h, nil
		}
		h.mu.Lock()
		err := h.outcome.Err
		h.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: worker %q exited before ready", ErrSetupFailed, name)
		}
		return nil, err
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("spawn %q: %w", name, ctx.Err())
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("spawn %q: not ready after %v", name, opts.Timeout)
	}
}

func (h *Handle) run(fn WorkerFunc) {
	var (
		state State
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("Panic in worker", zap.Any("panic", r))
				state, err = StateCompleted, nil
			}
		}()
		if h.opts.PinThread {
			h.session.thread = sigctl.Pin()
		}
		state, err = fn(h.session)
	}()

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		state, err = StateCanceled, nil
	case err != nil:
		state = StateFailed
		if !errors.Is(err, ErrSetupFailed) {
			err = fmt.Errorf("%w: %w", ErrSetupFailed, err)
		}
	case state == StateFailed:
		err = ErrSetupFailed
	case !state.Terminal():
		state = StateCompleted
	}
	h.session.state.Store(int32(state))

	h.mu.Lock()
	h.outcome.State = state
	h.outcome.Err = err
	h.outcome.Finished = time.Now()
	h.outcome.Steps = h.session.Steps()
	if th := h.session.thread; th != nil {
		h.outcome.TID = th.TID()
	}
	from := h.outcome.Triggered
	if from.IsZero() {
		from = h.outcome.Ready
	}
	if from.IsZero() {
		from = h.outcome.Started
	}
	h.outcome.Elapsed = h.outcome.Finished.Sub(from)
	e := h.eventLocked(terminalEvent(state))
	e.LatencyNS = uint64(h.outcome.Elapsed.Nanoseconds())
	if err != nil {
		e.Error = err.Error()
	}
	h.mu.Unlock()

	if err != nil {
		h.log.Error("Worker failed", zap.Error(err))
	} else {
		h.log.Debug("Worker finished", zap.Stringer("state", state), zap.Duration("elapsed", h.outcome.Elapsed))
	}
	h.emit(e)
	h.done.Set()
}

func terminalEvent(s State) events.EventType {
	switch s {
	case StateInterrupted:
		return events.EventInterrupted
	case StateCanceled:
		return events.EventCanceled
	case StateFailed:
		return events.EventSetupFailed
	default:
		return events.EventCompleted
	}
}

func (h *Handle) markReady() {
	h.mu.Lock()
	h.outcome.Ready = time.Now()
	e := h.eventLocked(events.EventReady)
	h.mu.Unlock()
	h.emit(e)
}

// Trigger applies the run's one external stimulus. sig is only used by
// TriggerSignal. A second call returns ErrAlreadyTriggered. A signal that
// could not be delivered does not count, so the caller may trigger again.
func (h *Handle) Trigger(kind TriggerKind, sig unix.Signal) error {
	h.mu.Lock()
	if h.triggered {
		h.mu.Unlock()
		return ErrAlreadyTriggered
	}
	switch kind {
	case TriggerSignal:
		if h.session.thread == nil {
			h.mu.Unlock()
			return ErrNotPinned
		}
	case TriggerCancel, TriggerFlag:
	default:
		h.mu.Unlock()
		return fmt.Errorf("unknown trigger kind %d", kind)
	}
	h.triggered = true
	h.outcome.Trigger = kind
	h.outcome.Triggered = time.Now()
	if kind == TriggerSignal {
		h.outcome.Signal = int(sig)
	}
	e := h.eventLocked(events.EventTrigger)
	e.Details = kind.String()
	h.mu.Unlock()
	h.emit(e)

	switch kind {
	case TriggerSignal:
		if err := h.Signal(sig); err != nil {
			h.mu.Lock()
			h.triggered = false
			h.outcome.Trigger = TriggerNone
			h.outcome.Triggered = time.Time{}
			h.outcome.Signal = 0
			h.mu.Unlock()
			return err
		}
	case TriggerCancel:
		h.RequestCancellation()
	case TriggerFlag:
		h.Flip()
	}
	return nil
}

// Signal sends sig to the worker's pinned thread. It may be called any number
// of times and does not count as the run's trigger.
func (h *Handle) Signal(sig unix.Signal) error {
	th := h.session.thread
	if th == nil {
		return ErrNotPinned
	}
	if err := th.Signal(sig); err != nil {
		return fmt.Errorf("signal worker %q: %w", h.name, err)
	}
	e := h.event(events.EventSignalSent)
	e.Signal = int32(sig)
	h.emit(e)
	return nil
}

// AwaitBlocked polls until the worker's pinned thread is asleep, which closes
// the gap between MarkReady and the worker entering its blocking call. It
// gives up after timeout; the caller may still trigger.
func (h *Handle) AwaitBlocked(ctx context.Context, timeout time.Duration) error {
	th := h.session.thread
	if th == nil {
		return ErrNotPinned
	}
	return wait.PollUntilContextTimeout(ctx, config.DefaultPollInterval, timeout, true, func(context.Context) (bool, error) {
		if h.done.IsSet() {
			return true, nil
		}
		sleeping, err := th.Sleeping()
		if err != nil {
			return false, err
		}
		return sleeping, nil
	})
}

// RequestCancellation cancels the worker's context.
func (h *Handle) RequestCancellation() {
	h.cancel()
}

// Flip sets the worker's cooperative flag.
func (h *Handle) Flip() {
	h.session.flip.Set()
}

// AwaitCompletion blocks until the worker is done and returns the time from
// the trigger (or from ready, without one) to completion.
func (h *Handle) AwaitCompletion(ctx context.Context) (time.Duration, error) {
	if err := h.done.WaitContext(ctx); err != nil {
		return 0, fmt.Errorf("await %q: %w", h.name, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome.Elapsed, nil
}

// Join returns the worker's outcome. It must follow completion and may only be
// called once.
func (h *Handle) Join() (Outcome, error) {
	if !h.done.IsSet() {
		return Outcome{}, ErrNotCompleted
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.joined {
		return Outcome{}, ErrAlreadyJoined
	}
	h.joined = true
	h.cancel()
	return h.outcome, nil
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) RunID() string {
	return h.runID
}

func (h *Handle) State() State {
	return State(h.session.state.Load())
}

// Steps is the worker's progress counter.
func (h *Handle) Steps() uint64 {
	return h.session.Steps()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done.Done()
}

// TID is the worker's OS thread id, or 0 when it is not pinned.
func (h *Handle) TID() int {
	if th := h.session.thread; th != nil {
		return th.TID()
	}
	return 0
}

func (h *Handle) event(t events.EventType) *events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventLocked(t)
}

func (h *Handle) eventLocked(t events.EventType) *events.Event {
	e := events.New(t, h.opts.Scenario, h.name)
	e.RunID = h.runID
	if th := h.session.thread; th != nil {
		e.TID = int32(th.TID())
	}
	return e
}

func (h *Handle) emit(e *events.Event) {
	if h.opts.Sink == nil {
		return
	}
	if !events.Emit(h.opts.Sink, e) {
		h.log.Debug("Event dropped", zap.String("type", e.TypeString()))
	}
}
