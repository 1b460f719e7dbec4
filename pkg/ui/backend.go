package ui

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/events"
	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

// Backend is the part of the turn controller the terminal UI drives.
// *session.Controller satisfies it.
type Backend interface {
	Submit(ctx context.Context, utterance string) error
	Cancel() bool
}

var _ Backend = (*session.Controller)(nil)

// TranscriptMsg carries a full transcript render.
type TranscriptMsg struct {
	Turns []transcript.Turn
}

// LiveMsg carries the in-progress assistant bubble.
type LiveMsg struct {
	Role   transcript.Role
	Text   string
	Status session.LiveStatus
}

// StateMsg carries a controller state change.
type StateMsg struct {
	State session.State
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// StepChatForwardFunc forwards watermill messages to the UI by decoding
// frames into bubbletea messages and injecting them into the program p.
func StepChatForwardFunc(p Sender) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		f, err := events.DecodeFrame(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", string(msg.Payload)).Msg("Failed to parse frame")
			return nil
		}

		log.Trace().Str("type", string(f.Type)).Str("conv_id", f.ConvID).Msg("Dispatching frame to UI")
		switch f.Type {
		case events.FrameTranscript:
			p.Send(TranscriptMsg{Turns: f.Turns})
		case events.FrameLive:
			p.Send(LiveMsg{
				Role:   transcript.Role(f.Role),
				Text:   f.Text,
				Status: session.LiveStatus(f.Status),
			})
		case events.FrameState:
			state, ok := session.ParseState(f.State)
			if !ok {
				log.Warn().Str("state", f.State).Msg("Ignoring frame with unknown state")
				return nil
			}
			p.Send(StateMsg{State: state})
		}
		return nil
	}
}
