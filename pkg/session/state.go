package session

// State is the position of a controller in the turn cycle.
type State int

const (
	Idle State = iota
	AwaitingInput
	UserTurnCommitted
	Streaming
	AssistantTurnCommitted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingInput:
		return "awaiting_input"
	case UserTurnCommitted:
		return "user_turn_committed"
	case Streaming:
		return "streaming"
	case AssistantTurnCommitted:
		return "assistant_turn_committed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AcceptsInput reports whether a new utterance may be submitted.
func (s State) AcceptsInput() bool { return s == AwaitingInput }

// ParseState is the inverse of String. ok is false for unknown names.
func ParseState(name string) (State, bool) {
	for s := Idle; s <= Failed; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return Idle, false
}
