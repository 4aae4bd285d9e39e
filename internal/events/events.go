package events

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const maxDetailsLength = 256

func sanitizeString(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

type EventType uint32

const (
	EventSpawn EventType = iota
	EventReady
	EventTrigger
	EventSignalSent
	EventInterrupted
	EventCompleted
	EventCanceled
	EventPaused
	EventResumed
	EventReleased
	EventSetupFailed
)

// Event is one observed transition of a controller/worker interaction.
type Event struct {
	Timestamp uint64
	Scenario  string
	Worker    string
	RunID     string
	TID       int32
	Type      EventType
	Signal    int32
	LatencyNS uint64
	Target    string
	Details   string
	Error     string
}

// New stamps an event with the current wall clock.
func New(t EventType, scenario, worker string) *Event {
	return &Event{
		Timestamp: uint64(time.Now().UnixNano()),
		Scenario:  scenario,
		Worker:    worker,
		Type:      t,
	}
}

func (e *Event) Latency() time.Duration {
	return time.Duration(e.LatencyNS) * time.Nanosecond
}

func (e *Event) TimestampTime() time.Time {
	return time.Unix(0, int64(e.Timestamp))
}

// Terminal reports whether the event closes a worker interaction.
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventInterrupted, EventCompleted, EventCanceled, EventSetupFailed:
		return true
	}
	return false
}

func (e *Event) TypeString() string {
	switch e.Type {
	case EventSpawn:
		return "SPAWN"
	case EventReady:
		return "READY"
	case EventTrigger:
		return "TRIGGER"
	case EventSignalSent:
		return "SIGNAL"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventCompleted:
		return "COMPLETED"
	case EventCanceled:
		return "CANCELED"
	case EventPaused:
		return "PAUSED"
	case EventResumed:
		return "RESUMED"
	case EventReleased:
		return "RELEASED"
	case EventSetupFailed:
		return "SETUP_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Category groups event types for the --filter flag.
func (e *Event) Category() string {
	switch e.Type {
	case EventSpawn, EventReady, EventTrigger, EventCompleted:
		return "harness"
	case EventSignalSent, EventInterrupted:
		return "signal"
	case EventCanceled, EventReleased:
		return "cancel"
	case EventPaused, EventResumed:
		return "pause"
	case EventSetupFailed:
		return "error"
	default:
		return "unknown"
	}
}

// Categories lists the names accepted by --filter.
func Categories() []string {
	return []string{"harness", "signal", "cancel", "pause", "error"}
}

func (e *Event) FormatMessage() string {
	prefix := fmt.Sprintf("[%s] %s/%s", e.TypeString(), sanitizeString(e.Scenario), sanitizeString(e.Worker))
	switch e.Type {
	case EventSignalSent:
		return fmt.Sprintf("%s signal %d sent to tid %d", prefix, e.Signal, e.TID)
	case EventInterrupted, EventCompleted, EventCanceled:
		msg := fmt.Sprintf("%s after %.6fs", prefix, e.Latency().Seconds())
		if e.Target != "" {
			msg += " (" + sanitizeString(truncateString(e.Target, maxDetailsLength)) + ")"
		}
		return msg
	case EventReleased:
		return fmt.Sprintf("%s %s destroyed", prefix, sanitizeString(truncateString(e.Target, maxDetailsLength)))
	case EventSetupFailed:
		return fmt.Sprintf("%s setup failed: %s", prefix, sanitizeString(truncateString(e.Error, maxDetailsLength)))
	default:
		if e.Details != "" {
			return prefix + " " + sanitizeString(truncateString(e.Details, maxDetailsLength))
		}
		return prefix
	}
}

var dropped atomic.Uint64

// Emit hands e to sink without blocking. It reports false when the sink is
// nil or full; a full sink drops the event and counts it.
func Emit(sink chan<- *Event, e *Event) bool {
	if sink == nil || e == nil {
		return false
	}
	select {
	case sink <- e:
		return true
	default:
		dropped.Add(1)
		return false
	}
}

// Dropped is the number of events discarded by Emit since start.
func Dropped() uint64 {
	return dropped.Load()
}
