// Package scenario holds the scripted experiments sigprobe runs on top of the
// harness. Each scenario drives its workers strictly one interaction at a time
// and returns a Report; it never prints the report itself.
package scenario

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/harness"
	"github.com/sigprobe/sigprobe/internal/logger"
)

type Scenario interface {
	Name() string
	Run(ctx context.Context) (*Report, error)
}

// SignalCounter reports how many times the kernel generated sig for a thread.
type SignalCounter interface {
	Count(tid, sig int) (uint64, error)
}

// Env carries what every scenario needs from the command line.
type Env struct {
	Sink chan<- *events.Event
	// Progress receives live output such as the pause worker's dots.
	Progress io.Writer
	// Timeout bounds every rendezvous wait.
	Timeout time.Duration
	// Auditor is optional.
	Auditor SignalCounter
}

func (e Env) options(scenario string, pin bool) harness.Options {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = config.RendezvousTimeout
	}
	return harness.Options{PinThread: pin, Timeout: timeout, Sink: e.Sink, Scenario: scenario}
}

func (e Env) progress() io.Writer {
	if e.Progress == nil {
		return io.Discard
	}
	return e.Progress
}

// audit fills r.KernelSignals when an auditor is configured. Failures are
// logged and leave the field empty.
func (e Env) audit(r *Result) {
	if e.Auditor == nil || r.TID == 0 || r.Signal == 0 {
		return
	}
	n, err := e.Auditor.Count(r.TID, r.Signal)
	if err != nil {
		logger.Warn("Signal audit lookup failed", zap.Int("tid", r.TID), zap.Int("signal", r.Signal), zap.Error(err))
		return
	}
	r.KernelSignals = &n
}

// Report is the outcome of one scenario run.
type Report struct {
	Scenario string        `json:"scenario"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Results  []Result      `json:"results"`
	Journal  []string      `json:"journal,omitempty"`
	Lines    []string      `json:"lines"`
}

func newReport(name string) *Report {
	return &Report{Scenario: name, Started: time.Now()}
}

func (r *Report) linef(format string, args ...any) {
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

func (r *Report) finish() *Report {
	r.Duration = time.Since(r.Started)
	return r
}

// Result is one worker interaction.
type Result struct {
	Worker      string        `json:"worker"`
	Primitive   string        `json:"primitive,omitempty"`
	State       string        `json:"state"`
	TID         int           `json:"tid,omitempty"`
	Signal      int           `json:"signal,omitempty"`
	Masked      bool          `json:"masked"`
	Nominal     time.Duration `json:"nominal_ns,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Interrupted bool          `json:"interrupted"`
	Canceled    bool          `json:"canceled"`
	// Deferred is set when a disabled cancellation delayed termination.
	Deferred bool `json:"deferred,omitempty"`
	Paused   bool `json:"paused,omitempty"`
	// MutedNoEffect is set when a suspend sent while muted changed nothing.
	MutedNoEffect bool    `json:"muted_no_effect,omitempty"`
	Steps         uint64  `json:"steps,omitempty"`
	KernelSignals *uint64 `json:"kernel_signals,omitempty"`
}

func resultFrom(out harness.Outcome) Result {
	return Result{
		Worker:      out.Worker,
		State:       out.State.String(),
		TID:         out.TID,
		Signal:      out.Signal,
		Elapsed:     out.Elapsed,
		Interrupted: out.State == harness.StateInterrupted,
		Canceled:    out.State == harness.StateCanceled,
		Steps:       out.Steps,
	}
}

// Journal records scoped resource releases in the order they happen.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, line)
}

func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

// Acquire creates a scoped resource. Pair it with a deferred Release.
func (j *Journal) Acquire(name string, s *harness.Session) *Resource {
	return &Resource{name: name, journal: j, session: s}
}

// Resource announces its own destruction, like an object whose destructor
// prints a message.
type Resource struct {
	name    string
	journal *Journal
	session *harness.Session
	once    sync.Once
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) Release() {
	r.once.Do(func() {
		r.journal.add(r.name + " destroyed.")
		if r.session != nil {
			r.session.Released(r.name)
		}
	})
}

// formatPeriod renders whole seconds the way people say them and anything
// else as a Go duration.
func formatPeriod(d time.Duration) string {
	if d%time.Second == 0 {
		n := int64(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}
