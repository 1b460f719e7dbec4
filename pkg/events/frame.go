// Package events carries session output over a watermill bus as JSON frames.
package events

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/healthchat/pkg/transcript"
)

type FrameType string

const (
	// FrameTranscript carries the full committed transcript.
	FrameTranscript FrameType = "transcript"
	// FrameLive carries the content of the in-progress assistant bubble.
	FrameLive FrameType = "live"
	// FrameState carries the controller state.
	FrameState FrameType = "state"
)

// Frame is the unit published on a conversation topic and pushed to
// websocket clients. Seq and the HTML fields are filled in by the web
// transport.
type Frame struct {
	Type   FrameType         `json:"type"`
	ConvID string            `json:"conv_id"`
	Seq    uint64            `json:"seq,omitempty"`
	Role   string            `json:"role,omitempty"`
	Text   string            `json:"text,omitempty"`
	HTML   string            `json:"html,omitempty"`
	Status string            `json:"status,omitempty"`
	State  string            `json:"state,omitempty"`
	Turns  []transcript.Turn `json:"turns,omitempty"`
	// TurnsHTML holds one rendered entry per turn of a transcript frame.
	TurnsHTML []string `json:"turns_html,omitempty"`
}

// TopicForConv computes the bus topic of a conversation.
func TopicForConv(convID string) string { return "chat:" + convID }

func (f Frame) Marshal() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "marshal frame")
	}
	return b, nil
}

func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if f.Type == "" {
		return Frame{}, errors.New("decode frame: missing type")
	}
	return f, nil
}
