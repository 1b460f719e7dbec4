package chatrunner

import (
	"bytes"
	"context"
	"iter"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/healthchat/pkg/generation"
	"github.com/go-go-golems/healthchat/pkg/prompt"
	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

func newBlockingBuilder(t *testing.T, gen generation.Generator, out *bytes.Buffer) *ChatBuilder {
	t.Helper()
	b, err := prompt.NewBuilder()
	require.NoError(t, err)
	return NewChatBuilder().
		WithMode(RunModeBlocking).
		WithPromptBuilder(b).
		WithGenerator(gen).
		WithOutputWriter(out).
		WithMarkdown(false)
}

func TestBlockingRunStreamsAnswer(t *testing.T) {
	var out bytes.Buffer
	cs, err := newBlockingBuilder(t, &generation.EchoGenerator{Answer: "Sleep eight hours."}, &out).
		WithQuery("how much sleep?").
		Build()
	require.NoError(t, err)

	require.NoError(t, cs.Run())
	require.Equal(t, "Sleep eight hours.\n", out.String())

	turns := cs.Session().Turns()
	require.Len(t, turns, 2)
	require.Equal(t, transcript.UserTurn("how much sleep?"), turns[0])
	require.Equal(t, transcript.AssistantTurn("Sleep eight hours."), turns[1])
}

func TestBlockingRunReportsFailure(t *testing.T) {
	gen := generation.GeneratorFunc(func(context.Context, string) iter.Seq2[generation.Fragment, error] {
		return func(yield func(generation.Fragment, error) bool) {
			if !yield(generation.Fragment{Text: "partial "}, nil) {
				return
			}
			yield(generation.Fragment{}, generation.Wrap("stream", errors.New("API key not valid: sk-secret")))
		}
	})
	var out bytes.Buffer
	cs, err := newBlockingBuilder(t, gen, &out).
		WithSecrets("sk-secret").
		WithQuery("hello").
		Build()
	require.NoError(t, err)

	// an error turn is a normal end of the cycle, not a process failure
	require.NoError(t, cs.Run())
	require.Len(t, cs.Session().Turns(), 2)
	want := session.FailureMessage("API key not valid: [REDACTED]")
	require.Equal(t, "partial \n"+want+"\n", out.String())
	require.NotContains(t, out.String(), "sk-secret")
}

func TestBlockingRunRendersMarkdown(t *testing.T) {
	var out bytes.Buffer
	cs, err := newBlockingBuilder(t, &generation.EchoGenerator{Answer: "Drink **water**."}, &out).
		WithMarkdown(true).
		WithQuery("thirsty").
		Build()
	require.NoError(t, err)

	require.NoError(t, cs.Run())
	require.Contains(t, out.String(), "Drink")
	require.Contains(t, out.String(), "water")
	require.NotContains(t, out.String(), session.StreamingMarker)
}

func TestBlockingRunRejectsEmptyQuery(t *testing.T) {
	var out bytes.Buffer
	cs, err := newBlockingBuilder(t, &generation.EchoGenerator{}, &out).WithQuery("   ").Build()
	require.NoError(t, err)
	require.Error(t, cs.Run())
	require.Empty(t, out.String())
}

func TestBuilderValidation(t *testing.T) {
	b, err := prompt.NewBuilder()
	require.NoError(t, err)

	_, err = NewChatBuilder().WithGenerator(&generation.EchoGenerator{}).Build()
	require.Error(t, err)

	_, err = NewChatBuilder().WithPromptBuilder(b).WithGenerator(&generation.EchoGenerator{}).Build()
	require.ErrorContains(t, err, "bus is required")

	_, err = NewChatBuilder().WithMode("telepathy").WithPromptBuilder(b).Build()
	require.ErrorContains(t, err, "invalid run mode")

	_, err = NewChatBuilder().WithContext(nil).Build() //nolint:staticcheck
	require.Error(t, err)
}

func TestWriterPresenterWritesOnlyDeltas(t *testing.T) {
	var out bytes.Buffer
	p := newWriterPresenter(&out, false, 0)

	p.RenderState(session.UserTurnCommitted)
	p.RenderLive(transcript.RoleAssistant, "Rest "+session.StreamingMarker, session.LiveStreaming)
	p.RenderLive(transcript.RoleAssistant, "Rest and "+session.StreamingMarker, session.LiveStreaming)
	p.RenderLive(transcript.RoleAssistant, "Rest and hydrate.", session.LiveDone)

	require.Equal(t, "Rest and hydrate.\n", out.String())
	require.False(t, p.Failed())
	require.NoError(t, p.Err())

	p.RenderState(session.UserTurnCommitted)
	p.RenderLive(transcript.RoleAssistant, "Again.", session.LiveDone)
	require.Equal(t, "Rest and hydrate.\nAgain.\n", out.String())
}

func TestSwitchPresenterRoutesToCurrentTarget(t *testing.T) {
	var a, b bytes.Buffer
	sp := &switchPresenter{target: newWriterPresenter(&a, false, 0)}
	sp.RenderLive(transcript.RoleAssistant, "one", session.LiveDone)
	sp.set(newWriterPresenter(&b, false, 0))
	sp.RenderLive(transcript.RoleAssistant, "two", session.LiveDone)

	require.Equal(t, "one\n", a.String())
	require.Equal(t, "two\n", b.String())
}
