package harness

import "errors"

var (
	ErrNotCompleted     = errors.New("worker has not completed")
	ErrAlreadyJoined    = errors.New("worker already joined")
	ErrAlreadyTriggered = errors.New("worker already triggered")
	ErrNotPinned        = errors.New("worker is not pinned to an OS thread")
	ErrSetupFailed      = errors.New("worker setup failed")
)

// State is where a worker is in its lifecycle.
//
//	Created -> Ready -> Running -> {Completed | Interrupted | Canceled}
//	Running -> Paused -> Running
//	Created -> Failed
type State int32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StatePaused
	StateCompleted
	StateInterrupted
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateInterrupted:
		return "interrupted"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the worker's interaction.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateInterrupted, StateCanceled, StateFailed:
		return true
	}
	return false
}

// TriggerKind is the external stimulus a controller applies once per run.
type TriggerKind int

const (
	TriggerNone TriggerKind = iota
	TriggerSignal
	TriggerCancel
	TriggerFlag
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerNone:
		return "none"
	case TriggerSignal:
		return "signal"
	case TriggerCancel:
		return "cancel"
	case TriggerFlag:
		return "flag"
	default:
		return "unknown"
	}
}
