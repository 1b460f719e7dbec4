package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/generation"
	"github.com/go-go-golems/healthchat/pkg/metrics"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

// StreamingMarker is appended to the partial answer while it streams.
const StreamingMarker = "▌"

// PromptBuilder wraps an utterance into the prompt sent to the generator.
type PromptBuilder interface {
	Build(utterance string) (string, error)
}

// Config wires a Controller to its collaborators.
type Config struct {
	ID        string
	Store     *transcript.Store
	Prompts   PromptBuilder
	Generator generation.Generator
	Presenter Presenter
	// Secrets are masked out of error descriptions before they are shown.
	Secrets []string
	// EventBuffer sizes the channel between the generation goroutine and
	// the dispatcher.
	EventBuffer int
}

// Controller runs the turn cycle for one session. One cycle runs at a time;
// input received while a cycle is in flight is refused with ErrBusy.
type Controller struct {
	id        string
	store     *transcript.Store
	prompts   PromptBuilder
	gen       generation.Generator
	presenter Presenter
	secrets   []string
	eventBuf  int

	// mu serializes Dispatch and guards state and buf. Presenter calls run
	// under mu so they stay in order; readers use current instead.
	mu      sync.Mutex
	state   State
	current atomic.Int32
	buf     strings.Builder

	// runMu guards run separately so Cancel never waits on a presenter.
	runMu sync.Mutex
	run   *activeRun
}

type activeRun struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is nil")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("session: prompt builder is nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("session: generator is nil")
	}
	p := cfg.Presenter
	if p == nil {
		p = NopPresenter{}
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Controller{
		id:        cfg.ID,
		store:     cfg.Store,
		prompts:   cfg.Prompts,
		gen:       cfg.Generator,
		presenter: p,
		secrets:   append([]string(nil), cfg.Secrets...),
		eventBuf:  buf,
		state:     Idle,
	}, nil
}

// Start moves an idle controller to AwaitingInput and renders the transcript.
// Calling Start again is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return
	}
	c.setStateLocked(AwaitingInput)
	c.presenter.Render(c.store.All())
}

// State returns the current state without waiting for an in-progress
// dispatch or presenter call.
func (c *Controller) State() State {
	return State(c.current.Load())
}

// Refresh presents the committed transcript, the state and, while
// streaming, the live bubble again. A newly attached view catches up this
// way, in order with the frames of the running cycle.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return
	}
	c.presenter.Render(c.store.All())
	c.presenter.RenderState(c.state)
	if c.state == Streaming && c.buf.Len() > 0 {
		c.presenter.RenderLive(transcript.RoleAssistant, c.buf.String()+StreamingMarker, LiveStreaming)
	}
}

// IsRunning reports whether a generation is in flight.
func (c *Controller) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.run != nil
}

// Submit feeds an utterance into the cycle. ctx bounds the generation that
// follows, not the call itself; Submit returns once streaming has started.
// Empty or whitespace-only input is ignored.
func (c *Controller) Submit(ctx context.Context, utterance string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handleUtteranceLocked(ctx, utterance)
}

// Dispatch applies a single event. Utterances dispatched this way stream
// under context.Background.
func (c *Controller) Dispatch(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case UtteranceReceived:
		return c.handleUtteranceLocked(context.Background(), e.Text)
	case FragmentReceived:
		c.handleFragmentLocked(e.Text)
	case StreamCompleted:
		c.handleCompletedLocked()
	case StreamFailed:
		c.handleFailedLocked(e.Err)
	default:
		return errors.Errorf("session: unknown event %T", ev)
	}
	return nil
}

// Cancel aborts the in-flight generation. The abort surfaces as a failure
// turn. It returns false when nothing was running.
func (c *Controller) Cancel() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.run == nil {
		return false
	}
	c.run.cancel()
	return true
}

// Wait blocks until the in-flight cycle, if any, has been committed.
func (c *Controller) Wait(ctx context.Context) error {
	c.runMu.Lock()
	run := c.run
	c.runMu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	log.Debug().Str("component", "session").Str("conv_id", c.id).
		Str("from", c.state.String()).Str("state", s.String()).Msg("state transition")
	c.state = s
	c.current.Store(int32(s))
	c.presenter.RenderState(s)
}

func (c *Controller) handleUtteranceLocked(ctx context.Context, utterance string) error {
	switch c.state {
	case Idle:
		return ErrNotStarted
	case AwaitingInput:
	default:
		return ErrBusy
	}
	if strings.TrimSpace(utterance) == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.store.Append(transcript.UserTurn(utterance))
	c.setStateLocked(UserTurnCommitted)
	c.presenter.Render(c.store.All())

	wrapped, err := c.prompts.Build(utterance)
	if err != nil {
		c.handleFailedLocked(errors.Wrap(err, "build prompt"))
		return nil
	}

	c.buf.Reset()
	c.startRun(ctx, wrapped)
	c.setStateLocked(Streaming)
	return nil
}

func (c *Controller) handleFragmentLocked(text string) {
	if c.state != Streaming {
		log.Debug().Str("component", "session").Str("conv_id", c.id).Str("state", c.state.String()).Msg("dropping fragment outside of stream")
		return
	}
	if text == "" {
		return
	}
	metrics.FragmentsReceived.Inc()
	c.buf.WriteString(text)
	c.presenter.RenderLive(transcript.RoleAssistant, c.buf.String()+StreamingMarker, LiveStreaming)
}

func (c *Controller) handleCompletedLocked() {
	if c.state != Streaming {
		return
	}
	answer := c.buf.String()
	c.buf.Reset()

	c.presenter.RenderLive(transcript.RoleAssistant, answer, LiveDone)
	c.store.Append(transcript.AssistantTurn(answer))
	c.setStateLocked(AssistantTurnCommitted)
	c.presenter.Render(c.store.All())
	c.setStateLocked(AwaitingInput)
}

func (c *Controller) handleFailedLocked(err error) {
	if c.state != Streaming && c.state != UserTurnCommitted {
		return
	}
	desc := redact(describe(err), c.secrets)
	ev := log.Warn()
	if generation.IsCanceled(err) {
		ev = log.Debug()
	}
	ev.Str("component", "session").Str("conv_id", c.id).Str("error", desc).Msg("generation failed")

	msg := FailureMessage(desc)
	c.buf.Reset()

	c.presenter.RenderLive(transcript.RoleAssistant, msg, LiveFailed)
	c.store.Append(transcript.AssistantTurn(msg))
	c.setStateLocked(Failed)
	c.presenter.Render(c.store.All())
	c.setStateLocked(AwaitingInput)
}

// startRun launches the generation goroutine and the dispatcher that feeds
// its events back into the controller. Must be called with mu held.
func (c *Controller) startRun(parent context.Context, wrapped string) {
	ctx, cancel := context.WithCancel(parent)
	run := &activeRun{cancel: cancel, done: make(chan struct{}), started: time.Now()}

	c.runMu.Lock()
	c.run = run
	c.runMu.Unlock()

	events := make(chan Event, c.eventBuf)
	go c.generate(ctx, wrapped, events)
	go c.pump(run, events)
}

func (c *Controller) generate(ctx context.Context, wrapped string, out chan<- Event) {
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "session").Str("conv_id", c.id).Interface("panic", r).Msg("generator panicked")
			out <- StreamFailed{Err: generation.Wrap("generate", errors.Errorf("generator panicked: %v", r))}
		}
	}()

	for frag, err := range c.gen.Generate(ctx, wrapped) {
		if err != nil {
			out <- StreamFailed{Err: generation.Wrap("generate", err)}
			return
		}
		out <- FragmentReceived{Text: frag.Text}
	}
	if err := ctx.Err(); err != nil {
		out <- StreamFailed{Err: generation.Wrap("generate", err)}
		return
	}
	out <- StreamCompleted{}
}

func (c *Controller) pump(run *activeRun, in <-chan Event) {
	status := string(LiveDone)
	for ev := range in {
		if _, ok := ev.(StreamFailed); ok {
			status = string(LiveFailed)
		}
		if err := c.Dispatch(ev); err != nil {
			log.Warn().Err(err).Str("component", "session").Str("conv_id", c.id).Msg("dispatch failed")
		}
	}
	metrics.RecordStream(status, time.Since(run.started).Seconds())

	run.cancel()
	c.runMu.Lock()
	if c.run == run {
		c.run = nil
	}
	c.runMu.Unlock()
	close(run.done)
}
