package batch

import (
	"errors"
	"time"
)

// State is the lifecycle state of a batch run.
type State string

const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StatePausedForBackoff State = "paused_for_backoff"
	StateDone             State = "done"
	StateAborted          State = "aborted"
	StateStopped          State = "stopped"
)

// AllStates lists every state, in display order.
var AllStates = []State{
	StateIdle, StateRunning, StatePausedForBackoff, StateDone, StateAborted, StateStopped,
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateIdle: {StateRunning},
	StateRunning: {
		StatePausedForBackoff,
		StateDone,
		StateAborted,
		StateStopped,
	},
	StatePausedForBackoff: {StateRunning, StateStopped},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return len(ValidTransitions[s]) == 0
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateIdle:
		return "Idle - controller created, not yet started"
	case StateRunning:
		return "Running - processing pending records"
	case StatePausedForBackoff:
		return "Paused - backing off after a systemic failure"
	case StateDone:
		return "Done - pending queue drained"
	case StateAborted:
		return "Aborted - batch restart limit exceeded"
	case StateStopped:
		return "Stopped - shutdown requested"
	default:
		return "Unknown state"
	}
}
