package scenario

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sigprobe/sigprobe/internal/blocking"
	"github.com/sigprobe/sigprobe/internal/events"
	"github.com/sigprobe/sigprobe/internal/sigctl"
)

type fakeCounter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCounter) Count(tid, sig int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

func TestFormatPeriod(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5 seconds"},
		{time.Second, "1 second"},
		{300 * time.Millisecond, "300ms"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		if got := formatPeriod(tt.d); got != tt.want {
			t.Errorf("formatPeriod(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestJournal_ReverseRelease(t *testing.T) {
	j := &Journal{}
	func() {
		a := j.Acquire("A", nil)
		defer a.Release()
		func() {
			b := j.Acquire("B", nil)
			defer b.Release()
		}()
	}()
	r := j.Acquire("C", nil)
	r.Release()
	r.Release()

	want := []string{"B destroyed.", "A destroyed.", "C destroyed."}
	got := j.Entries()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Entries() = %v, want %v", got, want)
	}
}

func TestInterruption_MaskedAndUnmasked(t *testing.T) {
	period := 300 * time.Millisecond
	sink := make(chan *events.Event, 256)
	counter := &fakeCounter{}
	s := &Interruption{
		Title:      "mask",
		Primitives: blocking.Names(),
		Masks:      []bool{false, true},
		ShowMask:   true,
		Period:     period,
		Signal:     unix.Signal(43),
		Env:        Env{Sink: sink, Timeout: 5 * time.Second, Auditor: counter},
	}

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Results) != 2*len(blocking.Names()) {
		t.Fatalf("expected %d results, got %d", 2*len(blocking.Names()), len(report.Results))
	}
	if counter.calls != len(report.Results) {
		t.Errorf("expected one audit lookup per result, got %d", counter.calls)
	}

	for i, r := range report.Results {
		if r.Masked {
			if r.Interrupted {
				t.Errorf("%s masked: unexpected interruption", r.Primitive)
			}
			if r.Elapsed < period-20*time.Millisecond {
				t.Errorf("%s masked: elapsed %v, want about %v", r.Primitive, r.Elapsed, period)
			}
			if !strings.HasSuffix(report.Lines[i], "The signal was masked.") {
				t.Errorf("line %q lacks masked suffix", report.Lines[i])
			}
		} else if blocking.Restarts(r.Primitive) {
			if r.Interrupted {
				t.Errorf("%s unmasked: handled signal should not cut the sleep short", r.Primitive)
			}
			if r.Elapsed < period-20*time.Millisecond {
				t.Errorf("%s unmasked: elapsed %v, want about %v", r.Primitive, r.Elapsed, period)
			}
			if !strings.HasSuffix(report.Lines[i], "The signal wasn't masked.") {
				t.Errorf("line %q lacks unmasked suffix", report.Lines[i])
			}
		} else {
			if !r.Interrupted {
				t.Errorf("%s unmasked: expected interruption", r.Primitive)
			}
			if r.Elapsed >= period {
				t.Errorf("%s unmasked: elapsed %v, want below %v", r.Primitive, r.Elapsed, period)
			}
			if !strings.HasSuffix(report.Lines[i], "The signal wasn't masked.") {
				t.Errorf("line %q lacks unmasked suffix", report.Lines[i])
			}
		}
		if r.KernelSignals == nil || *r.KernelSignals != 1 {
			t.Errorf("%s: expected audited signal count", r.Primitive)
		}
	}
	if !strings.HasPrefix(report.Lines[0], "Thread was going to sleep for 300ms using nanosleep function") {
		t.Errorf("unexpected first line %q", report.Lines[0])
	}
}

func TestInterruption_NoMaskSuffix(t *testing.T) {
	s := &Interruption{
		Title:      "sleep",
		Primitives: []string{blocking.NameSelect},
		Period:     200 * time.Millisecond,
		Signal:     unix.Signal(43),
		Env:        Env{Auditor: &fakeCounter{err: errors.New("no map")}},
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Lines) != 1 || strings.Contains(report.Lines[0], "masked") {
		t.Errorf("unexpected lines %v", report.Lines)
	}
	if report.Results[0].KernelSignals != nil {
		t.Error("failed audit lookup should leave the count empty")
	}
}

func TestInterruption_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		s    *Interruption
	}{
		{"invalid signal", &Interruption{Primitives: []string{blocking.NameNanosleep}, Period: time.Millisecond, Signal: unix.SIGKILL}},
		{"unknown primitive", &Interruption{Primitives: []string{"usleep"}, Period: time.Millisecond, Signal: unix.Signal(43)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.s.Run(context.Background()); err == nil {
				t.Error("expected setup error")
			}
		})
	}
	if _, err := (&Interruption{Signal: unix.SIGSTOP}).Run(context.Background()); !errors.Is(err, sigctl.ErrInvalidSignal) {
		t.Errorf("expected ErrInvalidSignal, got %v", err)
	}
}

func TestCancellation(t *testing.T) {
	s := &Cancellation{
		Period: 2 * time.Second,
		Tick:   5 * time.Millisecond,
		Env:    Env{Timeout: 5 * time.Second},
	}
	start := time.Now()
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if time.Since(start) >= s.Period {
		t.Errorf("cancellation should not wait out the period, took %v", time.Since(start))
	}

	if len(report.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(report.Results))
	}
	for i, r := range report.Results {
		if !r.Canceled {
			t.Errorf("worker %d: expected canceled, got %s", i+1, r.State)
		}
	}
	for i, r := range report.Results[:3] {
		if r.Deferred {
			t.Errorf("worker %d should not be deferred", i+1)
		}
	}
	if !report.Results[3].Deferred {
		t.Error("worker 4 should report deferred cancellation")
	}

	wantJournal := []string{
		"Local Object. Worker 3. Second stack frame destroyed.",
		"Local Object. Worker 3. First stack frame destroyed.",
		"Local Object. Worker 4. Second stack frame destroyed.",
		"Local Object. Worker 4. First stack frame destroyed.",
		"Static Object destroyed.",
	}
	if strings.Join(report.Journal, "|") != strings.Join(wantJournal, "|") {
		t.Errorf("journal = %v, want %v", report.Journal, wantJournal)
	}
	last := report.Lines[len(report.Lines)-1]
	if last != "disabling cancellation prevented termination of worker" {
		t.Errorf("unexpected verdict %q", last)
	}
	if !strings.HasPrefix(report.Lines[0], "Worker 1. condition wait was interrupted by cancellation") {
		t.Errorf("unexpected first line %q", report.Lines[0])
	}
	if !strings.HasSuffix(report.Lines[3], "seconds, after cancellation was re-enabled.") {
		t.Errorf("worker 4 line should mention the deferral, got %q", report.Lines[3])
	}
	for _, line := range report.Lines[:3] {
		if strings.Contains(line, "re-enabled") {
			t.Errorf("only worker 4 is deferred, got %q", line)
		}
	}

	for i, r := range report.Results {
		if report.Duration < r.Elapsed {
			t.Errorf("report duration %v shorter than worker %d's run %v", report.Duration, i+1, r.Elapsed)
		}
	}
	if report.Started.Before(start) {
		t.Errorf("report started at %v, before Run was called at %v", report.Started, start)
	}
}

func TestPause(t *testing.T) {
	var progress bytes.Buffer
	var mu sync.Mutex
	s := &Pause{
		Suspend:      unix.SIGUSR2,
		Resume:       unix.SIGUSR1,
		ProgressRate: 1000,
		Observe:      50 * time.Millisecond,
		Stall:        20 * time.Millisecond,
		Env:          Env{Timeout: 5 * time.Second, Progress: &lockedWriter{mu: &mu, w: &progress}},
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	r := report.Results[0]
	if !r.Paused {
		t.Error("expected the worker to pause")
	}
	if !r.MutedNoEffect {
		t.Error("muted suspend should have no effect")
	}
	if r.State != "completed" {
		t.Errorf("expected completed, got %s", r.State)
	}

	want := []string{
		"Thread muted suspend signal",
		"main sends resume signal",
		"main sends suspend signal",
		"main sends resume signal",
		"main sets stopPhase1 flag",
		"Thread unmuted suspend signal",
		"main sends suspend signal",
		"main sends resume signal",
		"main sets stopPhase2 flag",
		"Thread was successfully paused.",
		"Suspend while muted had no effect.",
	}
	if strings.Join(report.Lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %v\nwant %v", report.Lines, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(progress.String(), ".") {
		t.Error("expected progress dots")
	}
}

func TestPause_InvalidSignals(t *testing.T) {
	s := &Pause{Suspend: unix.SIGUSR1, Resume: unix.SIGUSR1}
	if _, err := s.Run(context.Background()); err == nil {
		t.Error("expected error for identical signals")
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
