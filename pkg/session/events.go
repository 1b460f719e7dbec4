package session

// Event drives the controller state machine.
type Event interface {
	isEvent()
}

// UtteranceReceived carries raw user input.
type UtteranceReceived struct {
	Text string
}

// FragmentReceived carries one streamed piece of the answer.
type FragmentReceived struct {
	Text string
}

// StreamCompleted marks the normal end of a generation stream.
type StreamCompleted struct{}

// StreamFailed ends a stream with an error. Any partial answer is dropped.
type StreamFailed struct {
	Err error
}

func (UtteranceReceived) isEvent() {}
func (FragmentReceived) isEvent() {}
func (StreamCompleted) isEvent() {}
func (StreamFailed) isEvent() {}
