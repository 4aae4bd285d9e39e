package events

import (
	"strings"
	"testing"
	"time"
)

func TestEvent_Latency(t *testing.T) {
	e := &Event{LatencyNS: 5000000}
	expected := 5 * time.Millisecond
	if e.Latency() != expected {
		t.Errorf("Expected latency %v, got %v", expected, e.Latency())
	}
}

func TestEvent_TimestampTime(t *testing.T) {
	ts := uint64(1609459200000000000)
	e := &Event{Timestamp: ts}
	result := e.TimestampTime()
	if result.UnixNano() != int64(ts) {
		t.Errorf("Expected timestamp %d, got %d", ts, result.UnixNano())
	}
}

func TestNew(t *testing.T) {
	before := time.Now()
	e := New(EventReady, "sleep", "nanosleep")
	if e.Type != EventReady || e.Scenario != "sleep" || e.Worker != "nanosleep" {
		t.Errorf("Unexpected event %+v", e)
	}
	if e.TimestampTime().Before(before) {
		t.Error("Timestamp should not precede creation")
	}
}

func TestEvent_TypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventSpawn, "SPAWN"},
		{EventReady, "READY"},
		{EventTrigger, "TRIGGER"},
		{EventSignalSent, "SIGNAL"},
		{EventInterrupted, "INTERRUPTED"},
		{EventCompleted, "COMPLETED"},
		{EventCanceled, "CANCELED"},
		{EventPaused, "PAUSED"},
		{EventResumed, "RESUMED"},
		{EventReleased, "RELEASED"},
		{EventSetupFailed, "SETUP_FAILED"},
		{EventType(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			e := &Event{Type: tt.eventType}
			if e.TypeString() != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, e.TypeString())
			}
		})
	}
}

func TestEvent_Category(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventReady, "harness"},
		{EventSignalSent, "signal"},
		{EventInterrupted, "signal"},
		{EventReleased, "cancel"},
		{EventPaused, "pause"},
		{EventSetupFailed, "error"},
		{EventType(999), "unknown"},
	}

	for _, tt := range tests {
		e := &Event{Type: tt.eventType}
		if e.Category() != tt.expected {
			t.Errorf("%s: expected category %q, got %q", e.TypeString(), tt.expected, e.Category())
		}
	}
}

func TestEvent_Terminal(t *testing.T) {
	for _, typ := range []EventType{EventInterrupted, EventCompleted, EventCanceled, EventSetupFailed} {
		if !(&Event{Type: typ}).Terminal() {
			t.Errorf("%v should be terminal", typ)
		}
	}
	for _, typ := range []EventType{EventReady, EventPaused, EventReleased} {
		if (&Event{Type: typ}).Terminal() {
			t.Errorf("%v should not be terminal", typ)
		}
	}
}

func TestEvent_FormatMessage(t *testing.T) {
	tests := []struct {
		name     string
		event    *Event
		contains string
	}{
		{"signal", &Event{Type: EventSignalSent, Scenario: "sleep", Worker: "w", Signal: 37, TID: 42}, "signal 37 sent to tid 42"},
		{"interrupted", &Event{Type: EventInterrupted, Scenario: "sleep", Worker: "w", LatencyNS: 1500000, Target: "nanosleep"}, "after 0.001500s (nanosleep)"},
		{"released", &Event{Type: EventReleased, Scenario: "cancel", Worker: "w3", Target: "Local Object"}, "Local Object destroyed"},
		{"setup failed", &Event{Type: EventSetupFailed, Scenario: "mask", Worker: "w", Error: "EINVAL"}, "setup failed: EINVAL"},
		{"details", &Event{Type: EventReady, Scenario: "pause", Worker: "w", Details: "muted"}, "[READY] pause/w muted"},
		{"percent escaped", &Event{Type: EventReady, Scenario: "100%", Worker: "w"}, "100%%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.event.FormatMessage()
			if !strings.Contains(msg, tt.contains) {
				t.Errorf("Expected %q to contain %q", msg, tt.contains)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("abcdef", 5); got != "ab..." {
		t.Errorf("Expected ab..., got %q", got)
	}
	if got := truncateString("abcdef", 2); got != "ab" {
		t.Errorf("Expected ab, got %q", got)
	}
	if got := truncateString("abc", 0); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}

func TestEmit(t *testing.T) {
	ch := make(chan *Event, 1)
	if !Emit(ch, &Event{Type: EventReady}) {
		t.Fatal("Expected first emit to succeed")
	}
	before := Dropped()
	if Emit(ch, &Event{Type: EventReady}) {
		t.Error("Expected emit to a full channel to drop")
	}
	if got := Dropped(); got != before+1 {
		t.Errorf("Expected dropped count %d, got %d", before+1, got)
	}
	if Emit(nil, &Event{Type: EventReady}) {
		t.Error("Expected emit to a nil channel to report false")
	}
	if Emit(ch, nil) {
		t.Error("Expected emit of nil event to report false")
	}
}

func TestCategories(t *testing.T) {
	if len(Categories()) != 5 {
		t.Errorf("Expected 5 categories, got %d", len(Categories()))
	}
}
