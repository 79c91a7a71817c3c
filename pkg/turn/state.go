package turn

import "time"

// State is the utterance detector's position in a caller turn.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:     {StateSpeaking},
	StateSpeaking: {StateIdle},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// FinalizeReason records how an utterance ended.
type FinalizeReason int

const (
	// FinalizedBySilence means trailing silence closed the utterance.
	FinalizedBySilence FinalizeReason = iota
	// FinalizedByFlush means the stream ended while the caller was speaking.
	FinalizedByFlush
)

func (r FinalizeReason) String() string {
	switch r {
	case FinalizedBySilence:
		return "silence"
	case FinalizedByFlush:
		return "flush"
	default:
		return "unknown"
	}
}
