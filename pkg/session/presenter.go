package session

import "github.com/go-go-golems/healthchat/pkg/transcript"

// LiveStatus describes the in-progress assistant bubble.
type LiveStatus string

const (
	LiveStreaming LiveStatus = "streaming"
	LiveDone      LiveStatus = "done"
	LiveFailed    LiveStatus = "failed"
)

// Presenter is the boundary to whatever displays a session. Calls arrive in
// order from a single goroutine at a time; implementations must not call back
// into the controller synchronously.
type Presenter interface {
	// Render shows the full committed transcript.
	Render(turns []transcript.Turn)
	// RenderLive replaces the content of the in-progress bubble.
	RenderLive(role transcript.Role, text string, status LiveStatus)
	// RenderState lets the UI enable or disable input.
	RenderState(state State)
}

// NopPresenter discards everything.
type NopPresenter struct{}

func (NopPresenter) Render([]transcript.Turn) {}
func (NopPresenter) RenderLive(transcript.Role, string, LiveStatus) {}
func (NopPresenter) RenderState(State) {}
