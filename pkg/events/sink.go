package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

// Sink is a session.Presenter that publishes every call as a Frame on the
// conversation topic.
type Sink struct {
	convID    string
	topic     string
	publisher message.Publisher
}

var _ session.Presenter = (*Sink)(nil)

func NewSink(convID string, publisher message.Publisher) *Sink {
	return &Sink{convID: convID, topic: TopicForConv(convID), publisher: publisher}
}

func (s *Sink) Render(turns []transcript.Turn) {
	if turns == nil {
		turns = []transcript.Turn{}
	}
	s.publish(Frame{Type: FrameTranscript, Turns: turns})
}

func (s *Sink) RenderLive(role transcript.Role, text string, status session.LiveStatus) {
	s.publish(Frame{Type: FrameLive, Role: role.String(), Text: text, Status: string(status)})
}

func (s *Sink) RenderState(state session.State) {
	s.publish(Frame{Type: FrameState, State: state.String()})
}

func (s *Sink) publish(f Frame) {
	f.ConvID = s.convID
	b, err := f.Marshal()
	if err != nil {
		log.Error().Err(err).Str("component", "events").Str("conv_id", s.convID).Msg("sink: marshal failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "events").Str("conv_id", s.convID).Str("frame", string(f.Type)).Msg("sink: publish failed")
	}
}
