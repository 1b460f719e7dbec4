package session

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/healthchat/pkg/generation"
	"github.com/go-go-golems/healthchat/pkg/prompt"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

type liveCall struct {
	Text   string
	Status LiveStatus
}

type recordingPresenter struct {
	mu      sync.Mutex
	log     []string
	renders [][]transcript.Turn
	live    []liveCall
	states  []State
}

func (p *recordingPresenter) Render(turns []transcript.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renders = append(p.renders, turns)
	p.log = append(p.log, "render")
}

func (p *recordingPresenter) RenderLive(_ transcript.Role, text string, status LiveStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = append(p.live, liveCall{Text: text, Status: status})
	p.log = append(p.log, "live:"+string(status))
}

func (p *recordingPresenter) RenderState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
}

func (p *recordingPresenter) liveCalls() []liveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]liveCall(nil), p.live...)
}

func (p *recordingPresenter) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

func (p *recordingPresenter) stateLog() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.states...)
}

type scriptedGenerator struct {
	fragments []string
	err       error
	calls     atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, p string) iter.Seq2[generation.Fragment, error] {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	return func(yield func(generation.Fragment, error) bool) {
		for _, f := range g.fragments {
			if !yield(generation.Fragment{Text: f}, nil) {
				return
			}
		}
		if g.err != nil {
			yield(generation.Fragment{}, &generation.GenerationError{Op: "test", Err: g.err})
		}
	}
}

// blockingGenerator yields one fragment and then waits for release or ctx.
type blockingGenerator struct {
	release chan struct{}
	started chan struct{}
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{release: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ string) iter.Seq2[generation.Fragment, error] {
	return func(yield func(generation.Fragment, error) bool) {
		if !yield(generation.Fragment{Text: "partial "}, nil) {
			return
		}
		g.started <- struct{}{}
		select {
		case <-ctx.Done():
			yield(generation.Fragment{}, generation.Wrap("test", ctx.Err()))
		case <-g.release:
			yield(generation.Fragment{Text: "answer"}, nil)
		}
	}
}

type failingBuilder struct{}

func (failingBuilder) Build(string) (string, error) {
	return "", errors.New("template exploded")
}

func newTestController(t *testing.T, gen generation.Generator, secrets ...string) (*Controller, *transcript.Store, *recordingPresenter) {
	t.Helper()
	b, err := prompt.NewBuilder()
	require.NoError(t, err)
	store := transcript.NewStore()
	p := &recordingPresenter{}
	c, err := NewController(Config{
		ID:        "test",
		Store:     store,
		Prompts:   b,
		Generator: gen,
		Presenter: p,
		Secrets:   secrets,
	})
	require.NoError(t, err)
	c.Start()
	return c, store, p
}

func lastTurn(t *testing.T, store *transcript.Store) transcript.Turn {
	t.Helper()
	all := store.All()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func submitAndWait(t *testing.T, c *Controller, utterance string) {
	t.Helper()
	require.NoError(t, c.Submit(context.Background(), utterance))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	require.Equal(t, AwaitingInput, c.State())
}

func TestStartRendersEmptyTranscript(t *testing.T) {
	c, _, p := newTestController(t, &scriptedGenerator{})
	require.Equal(t, AwaitingInput, c.State())
	require.Equal(t, []string{"render"}, p.events())
	require.Empty(t, p.renders[0])
	require.Equal(t, []State{AwaitingInput}, p.stateLog())
}

func TestSubmitBeforeStart(t *testing.T) {
	b, err := prompt.NewBuilder()
	require.NoError(t, err)
	c, err := NewController(Config{Store: transcript.NewStore(), Prompts: b, Generator: &scriptedGenerator{}})
	require.NoError(t, err)
	require.ErrorIs(t, c.Submit(context.Background(), "hi"), ErrNotStarted)
}

func TestSuccessfulTurnStreamsAndCommits(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"Rest ", "", "and hydrate."}}
	c, store, p := newTestController(t, gen)

	submitAndWait(t, c, "What helps a headache?")

	require.Equal(t, []transcript.Turn{
		transcript.UserTurn("What helps a headache?"),
		transcript.AssistantTurn("Rest and hydrate."),
	}, store.All())

	require.Equal(t, []liveCall{
		{Text: "Rest ▌", Status: LiveStreaming},
		{Text: "Rest and hydrate.▌", Status: LiveStreaming},
		{Text: "Rest and hydrate.", Status: LiveDone},
	}, p.liveCalls())

	require.Equal(t, []State{
		AwaitingInput, UserTurnCommitted, Streaming, AssistantTurnCommitted, AwaitingInput,
	}, p.stateLog())

	require.Len(t, gen.prompts, 1)
	require.Contains(t, gen.prompts[0], "User query: What helps a headache?")
}

func TestUserTurnRenderedBeforeGeneration(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"ok"}}
	c, _, p := newTestController(t, gen)

	submitAndWait(t, c, "hello")

	require.Equal(t, []string{"render", "render", "live:streaming", "live:done", "render"}, p.events())
	require.Equal(t, []transcript.Turn{transcript.UserTurn("hello")}, p.renders[1])
}

func TestFailureCommitsErrorTurn(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("API key not valid")}
	c, store, p := newTestController(t, gen)

	submitAndWait(t, c, "hi")

	want := "An error occurred: API key not valid. Please check your API key and try again."
	require.Equal(t, []transcript.Turn{
		transcript.UserTurn("hi"),
		transcript.AssistantTurn(want),
	}, store.All())
	live := p.liveCalls()
	require.Equal(t, liveCall{Text: want, Status: LiveFailed}, live[len(live)-1])
	require.Contains(t, p.stateLog(), Failed)
}

func TestFailureDiscardsPartialAnswer(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"Take ", "two "}, err: errors.New("stream reset")}
	c, store, _ := newTestController(t, gen)

	submitAndWait(t, c, "dose?")

	last := lastTurn(t, store)
	require.Equal(t, transcript.RoleAssistant, last.Role)
	require.NotContains(t, last.Content, "Take two")
	require.Equal(t, FailureMessage("stream reset"), last.Content)
}

func TestEmptyUtteranceIsIgnored(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"x"}}
	c, store, p := newTestController(t, gen)

	for _, in := range []string{"", "   ", "\n\t"} {
		require.NoError(t, c.Submit(context.Background(), in))
	}

	require.Equal(t, 0, store.Len())
	require.Equal(t, int32(0), gen.calls.Load())
	require.Equal(t, AwaitingInput, c.State())
	require.Equal(t, []string{"render"}, p.events())
}

func TestTranscriptAlternatesAcrossCycles(t *testing.T) {
	ok := &scriptedGenerator{fragments: []string{"fine"}}
	bad := &scriptedGenerator{err: errors.New("quota exceeded")}
	gens := []*scriptedGenerator{ok, bad, ok, ok, bad}

	var idx atomic.Int32
	gen := generation.GeneratorFunc(func(ctx context.Context, p string) iter.Seq2[generation.Fragment, error] {
		g := gens[idx.Add(1)-1]
		return g.Generate(ctx, p)
	})
	c, store, _ := newTestController(t, gen)

	for i := range gens {
		submitAndWait(t, c, strings.Repeat("q", i+1))
	}

	turns := store.All()
	require.Len(t, turns, 2*len(gens))
	for i, turn := range turns {
		if i%2 == 0 {
			require.Equal(t, transcript.RoleUser, turn.Role)
		} else {
			require.Equal(t, transcript.RoleAssistant, turn.Role)
		}
	}
	require.Equal(t, FailureMessage("quota exceeded"), turns[3].Content)
	require.Equal(t, "fine", turns[5].Content)
}

func TestSubmitWhileStreamingIsBusy(t *testing.T) {
	gen := newBlockingGenerator()
	c, store, _ := newTestController(t, gen)

	require.NoError(t, c.Submit(context.Background(), "first"))
	<-gen.started

	require.ErrorIs(t, c.Submit(context.Background(), "second"), ErrBusy)
	require.ErrorIs(t, c.Dispatch(UtteranceReceived{Text: "third"}), ErrBusy)
	require.Equal(t, 1, store.Len())
	require.True(t, c.IsRunning())

	close(gen.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	require.Equal(t, []transcript.Turn{
		transcript.UserTurn("first"),
		transcript.AssistantTurn("partial answer"),
	}, store.All())
}

func TestCancelProducesFailureTurn(t *testing.T) {
	gen := newBlockingGenerator()
	c, store, _ := newTestController(t, gen)

	require.NoError(t, c.Submit(context.Background(), "slow question"))
	<-gen.started
	require.True(t, c.Cancel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	last := lastTurn(t, store)
	require.Equal(t, FailureMessage(context.Canceled.Error()), last.Content)
	require.False(t, c.Cancel())
	require.Equal(t, AwaitingInput, c.State())
}

func TestGeneratorPanicBecomesFailure(t *testing.T) {
	gen := generation.GeneratorFunc(func(context.Context, string) iter.Seq2[generation.Fragment, error] {
		return func(func(generation.Fragment, error) bool) {
			panic("boom")
		}
	})
	c, store, _ := newTestController(t, gen)

	submitAndWait(t, c, "hi")

	last := lastTurn(t, store)
	require.Contains(t, last.Content, "generator panicked: boom")
	require.True(t, strings.HasPrefix(last.Content, "An error occurred: "))
}

func TestPromptBuildFailureBecomesFailure(t *testing.T) {
	gen := &scriptedGenerator{}
	store := transcript.NewStore()
	c, err := NewController(Config{Store: store, Prompts: failingBuilder{}, Generator: gen})
	require.NoError(t, err)
	c.Start()

	require.NoError(t, c.Submit(context.Background(), "hi"))
	require.Equal(t, AwaitingInput, c.State())
	require.Equal(t, int32(0), gen.calls.Load())
	require.Equal(t, 2, store.Len())
	last := lastTurn(t, store)
	require.Equal(t, FailureMessage("build prompt: template exploded"), last.Content)
}

func TestFailureRedactsSecrets(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("key AIzaSECRET rejected")}
	c, store, _ := newTestController(t, gen, "AIzaSECRET")

	submitAndWait(t, c, "hi")

	last := lastTurn(t, store)
	require.NotContains(t, last.Content, "AIzaSECRET")
	require.Equal(t, FailureMessage("key [REDACTED] rejected"), last.Content)
}

func TestStrayEventsAreIgnored(t *testing.T) {
	c, store, p := newTestController(t, &scriptedGenerator{})

	require.NoError(t, c.Dispatch(FragmentReceived{Text: "late"}))
	require.NoError(t, c.Dispatch(StreamCompleted{}))
	require.NoError(t, c.Dispatch(StreamFailed{Err: errors.New("late")}))

	require.Equal(t, 0, store.Len())
	require.Empty(t, p.liveCalls())
	require.Equal(t, AwaitingInput, c.State())
}

func TestStateNames(t *testing.T) {
	for s := Idle; s <= Failed; s++ {
		got, ok := ParseState(s.String())
		require.True(t, ok)
		require.Equal(t, s, got)
	}
	_, ok := ParseState("sleeping")
	require.False(t, ok)
	require.Equal(t, "unknown", State(42).String())
	require.True(t, AwaitingInput.AcceptsInput())
	require.False(t, Streaming.AcceptsInput())
}

// blockingPresenter parks inside RenderLive until released.
type blockingPresenter struct {
	NopPresenter
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPresenter) RenderLive(transcript.Role, string, LiveStatus) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
}

func TestStateDoesNotWaitForPresenter(t *testing.T) {
	b, err := prompt.NewBuilder()
	require.NoError(t, err)
	p := &blockingPresenter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c, err := NewController(Config{
		Store:     transcript.NewStore(),
		Prompts:   b,
		Generator: &scriptedGenerator{fragments: []string{"Rest."}},
		Presenter: p,
	})
	require.NoError(t, err)
	c.Start()
	require.NoError(t, c.Submit(context.Background(), "tired"))

	select {
	case <-p.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("presenter never received the live update")
	}

	got := make(chan State, 1)
	go func() { got <- c.State() }()
	select {
	case s := <-got:
		require.Equal(t, Streaming, s)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind the presenter")
	}

	close(p.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	require.Equal(t, AwaitingInput, c.State())
}

func TestCancellationIsNotLoggedAsWarning(t *testing.T) {
	var buf syncBuffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.WarnLevel)
	t.Cleanup(func() { log.Logger = prev })

	gen := newBlockingGenerator()
	c, _, _ := newTestController(t, gen)
	require.NoError(t, c.Submit(context.Background(), "slow question"))
	<-gen.started
	require.True(t, c.Cancel())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	require.NotContains(t, buf.String(), "generation failed")

	c2, _, _ := newTestController(t, &scriptedGenerator{err: errors.New("quota exceeded")})
	submitAndWait(t, c2, "hi")
	require.Contains(t, buf.String(), "generation failed")
	require.Contains(t, buf.String(), "quota exceeded")
}

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRefreshReplaysCurrentView(t *testing.T) {
	gen := newBlockingGenerator()
	c, _, p := newTestController(t, gen)

	require.NoError(t, c.Submit(context.Background(), "slow question"))
	<-gen.started
	require.Eventually(t, func() bool { return len(p.liveCalls()) == 1 }, 5*time.Second, 10*time.Millisecond)

	before := len(p.events())
	c.Refresh()
	require.Equal(t, []string{"render", "live:streaming"}, p.events()[before:])
	require.Equal(t, Streaming, p.stateLog()[len(p.stateLog())-1])
	require.Equal(t, "partial "+StreamingMarker, p.liveCalls()[1].Text)

	close(gen.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	before = len(p.events())
	c.Refresh()
	require.Equal(t, []string{"render"}, p.events()[before:])
	require.Equal(t, AwaitingInput, p.stateLog()[len(p.stateLog())-1])

	idle, err := NewController(Config{Store: transcript.NewStore(), Prompts: failingBuilder{}, Generator: gen, Presenter: p})
	require.NoError(t, err)
	before = len(p.events())
	idle.Refresh()
	require.Len(t, p.events(), before)
}
