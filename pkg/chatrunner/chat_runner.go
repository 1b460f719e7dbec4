package chatrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/healthchat/pkg/events"
	"github.com/go-go-golems/healthchat/pkg/generation"
	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/healthchat/pkg/redisstream"
	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/ui"
)

// RunMode defines the execution mode for the chat session.
type RunMode string

const (
	RunModeChat        RunMode = "chat"
	RunModeInteractive RunMode = "interactive"
	RunModeBlocking    RunMode = "blocking"
)

// ChatSession holds the validated configuration and executes the chat logic.
// It's typically created and run by the ChatBuilder.
type ChatSession struct {
	ctx            context.Context
	convID         string
	bus            *redisstream.Bus
	turnStore      chatstore.TurnStore
	modelOptions   []ui.ModelOption
	programOptions []tea.ProgramOption
	mode           RunMode
	outputWriter   io.Writer
	query          string
	markdown       bool
	width          int

	presenter *switchPresenter
	sess      *session.Session
}

// Session exposes the underlying session, mostly for tests.
func (cs *ChatSession) Session() *session.Session { return cs.sess }

// Run executes the chat session based on its configured mode.
func (cs *ChatSession) Run() error {
	switch cs.mode {
	case RunModeChat:
		return cs.runChatInternal()
	case RunModeInteractive:
		return cs.runInteractiveInternal()
	case RunModeBlocking:
		_, err := cs.runBlockingInternal()
		return err
	default:
		return errors.Errorf("unknown run mode: %v", cs.mode)
	}
}

// subscriber returns a subscriber for one handler of the conversation topic.
// With Redis every handler needs its own consumer group, otherwise the
// handlers would split the stream between them.
func (cs *ChatSession) subscriber(name string) (message.Subscriber, func(), error) {
	if !cs.bus.UsesRedis() {
		return cs.bus.Subscriber, func() {}, nil
	}
	group := fmt.Sprintf("healthchat-%s-%s", name, cs.convID)
	if err := redisstream.EnsureGroupAtTail(cs.ctx, cs.bus.Redis, events.TopicForConv(cs.convID), group); err != nil {
		return nil, nil, err
	}
	sub, err := redisstream.BuildGroupSubscriber(cs.bus.Redis, group, name+"-"+uuid.NewString()[:8], events.NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, nil, err
	}
	return sub, func() { _ = sub.Close() }, nil
}

// runChatInternal handles the pure chat UI mode.
func (cs *ChatSession) runChatInternal() error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, events.NewWatermillLogger(log.Logger))
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}

	cs.presenter.set(events.NewSink(cs.convID, cs.bus.Publisher))
	defer cs.presenter.set(session.NopPresenter{})

	opts := append([]ui.ModelOption{
		ui.WithInitialTranscript(cs.sess.Turns(), cs.sess.Controller.State()),
	}, cs.modelOptions...)
	model := ui.NewModel(cs.ctx, cs.sess.Controller, opts...)
	p := tea.NewProgram(model, cs.programOptions...)

	topic := events.TopicForConv(cs.convID)
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	uiSub, closeUI, err := cs.subscriber("tui")
	if err != nil {
		return errors.Wrap(err, "failed to create UI subscriber")
	}
	closers = append(closers, closeUI)
	log.Debug().Str("component", "chatrunner").Str("topic", topic).Msg("Adding UI event handler")
	router.AddNoPublisherHandler("ui", topic, uiSub, ui.StepChatForwardFunc(p))

	if cs.turnStore != nil {
		persistSub, closePersist, err := cs.subscriber("persist")
		if err != nil {
			return errors.Wrap(err, "failed to create turn log subscriber")
		}
		closers = append(closers, closePersist)
		router.AddNoPublisherHandler("turn-persist", topic, persistSub, ui.StepTurnPersistFunc(cs.turnStore, cs.convID))
	}

	eg, childCtx := errgroup.WithContext(cs.ctx)
	childCtx, cancel := context.WithCancel(childCtx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		return router.Run(childCtx)
	})

	eg.Go(func() error {
		defer cancel()
		select {
		case <-router.Running():
		case <-childCtx.Done():
			return nil
		}

		log.Debug().Str("component", "chatrunner").Msg("Starting Bubble Tea program")
		_, runErr := p.Run()
		log.Debug().Err(runErr).Str("component", "chatrunner").Msg("Bubble Tea program finished")
		cs.sess.Controller.Cancel()

		if errors.Is(runErr, tea.ErrProgramKilled) && childCtx.Err() != nil {
			return nil
		}
		return runErr
	})

	err = eg.Wait()
	if cerr := router.Close(); cerr != nil {
		log.Debug().Err(cerr).Str("component", "chatrunner").Msg("router close failed")
	}
	if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
		return nil
	}
	return err
}

// runBlockingInternal submits the query once and writes the answer to the
// output writer. It reports whether the turn ended in an error turn.
func (cs *ChatSession) runBlockingInternal() (bool, error) {
	if strings.TrimSpace(cs.query) == "" {
		return false, errors.New("question is empty")
	}
	wp := newWriterPresenter(cs.outputWriter, cs.markdown, cs.width)
	cs.presenter.set(wp)
	defer cs.presenter.set(session.NopPresenter{})

	if err := cs.sess.Controller.Submit(cs.ctx, cs.query); err != nil {
		return false, errors.Wrap(err, "failed to submit question")
	}
	if err := cs.sess.Controller.Wait(cs.ctx); err != nil {
		cs.sess.Controller.Cancel()
		if errors.Is(err, context.Canceled) && cs.ctx.Err() == context.Canceled {
			log.Debug().Msg("Blocking answer cancelled by context")
			return false, nil
		}
		return false, errors.Wrap(err, "waiting for answer")
	}
	if err := wp.Err(); err != nil {
		return false, errors.Wrap(err, "failed to write output")
	}
	if wp.Failed() {
		// the error turn is the answer; it has been written like one
		log.Debug().Str("component", "chatrunner").Str("conv_id", cs.convID).Msg("answer ended in an error turn")
	}
	return wp.Failed(), nil
}

// runInteractiveInternal handles initial blocking run + optional chat transition.
func (cs *ChatSession) runInteractiveInternal() error {
	log.Debug().Msg("Running initial blocking step for interactive mode")
	if _, err := cs.runBlockingInternal(); err != nil {
		return errors.Wrap(err, "error during initial blocking step")
	}
	if cs.ctx.Err() != nil {
		return nil
	}

	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log.Debug().Msg("Stderr is not a TTY, skipping chat continuation prompt")
		return nil
	}

	continueInChat, err := askForChatContinuation()
	if err != nil {
		return errors.Wrap(err, "failed to ask for chat continuation")
	}
	if !continueInChat {
		log.Debug().Msg("User chose not to continue in chat mode")
		return nil
	}

	log.Debug().Msg("User chose to continue, starting chat UI")
	return cs.runChatInternal()
}

// --- ChatBuilder ---

// ChatBuilder provides a fluent API for configuring and running a chat session.
type ChatBuilder struct {
	err            error // To collect errors during build steps
	ctx            context.Context
	convID         string
	prompts        session.PromptBuilder
	generator      generation.Generator
	secrets        []string
	bus            *redisstream.Bus
	turnStore      chatstore.TurnStore
	modelOptions   []ui.ModelOption
	programOptions []tea.ProgramOption
	mode           RunMode
	outputWriter   io.Writer
	query          string
	markdown       *bool
	width          int
}

// NewChatBuilder creates a new builder with default settings.
func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{
		ctx:            context.Background(),
		programOptions: []tea.ProgramOption{tea.WithMouseCellMotion(), tea.WithAltScreen()},
		outputWriter:   os.Stdout,
		mode:           RunModeChat,
	}
}

// WithContext sets the context for the chat session.
func (b *ChatBuilder) WithContext(ctx context.Context) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if ctx == nil {
		b.err = errors.New("context cannot be nil")
		return b
	}
	b.ctx = ctx
	return b
}

// WithConversationID names the session. Defaults to a random UUID.
func (b *ChatBuilder) WithConversationID(id string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.convID = strings.TrimSpace(id)
	return b
}

// WithPromptBuilder sets the prompt builder. (Required)
func (b *ChatBuilder) WithPromptBuilder(p session.PromptBuilder) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if p == nil {
		b.err = errors.New("prompt builder cannot be nil")
		return b
	}
	b.prompts = p
	return b
}

// WithGenerator sets the generation engine. (Required)
func (b *ChatBuilder) WithGenerator(g generation.Generator) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if g == nil {
		b.err = errors.New("generator cannot be nil")
		return b
	}
	b.generator = g
	return b
}

// WithSecrets lists values masked out of error turns.
func (b *ChatBuilder) WithSecrets(secrets ...string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.secrets = append(b.secrets, secrets...)
	return b
}

// WithBus sets the event bus between the session and the chat UI.
// Required for chat and interactive modes.
func (b *ChatBuilder) WithBus(bus *redisstream.Bus) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if bus == nil || bus.Publisher == nil || bus.Subscriber == nil {
		b.err = errors.New("bus is not configured")
		return b
	}
	b.bus = bus
	return b
}

// WithTurnStore mirrors committed chat turns into a turn log.
func (b *ChatBuilder) WithTurnStore(s chatstore.TurnStore) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.turnStore = s
	return b
}

// WithUIOptions adds options for configuring the chat model.
func (b *ChatBuilder) WithUIOptions(opts ...ui.ModelOption) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.modelOptions = append(b.modelOptions, opts...)
	return b
}

// WithProgramOptions replaces the options of the bubbletea program.
func (b *ChatBuilder) WithProgramOptions(opts ...tea.ProgramOption) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.programOptions = opts
	return b
}

// WithMode sets the execution mode (chat, interactive, blocking).
func (b *ChatBuilder) WithMode(mode RunMode) *ChatBuilder {
	if b.err != nil {
		return b
	}
	switch mode {
	case RunModeChat, RunModeInteractive, RunModeBlocking:
		b.mode = mode
	default:
		b.err = errors.Errorf("invalid run mode: %s", mode)
	}
	return b
}

// WithQuery sets the question for blocking and interactive modes.
func (b *ChatBuilder) WithQuery(q string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.query = q
	return b
}

// WithOutputWriter sets the writer for blocking or interactive modes.
// Defaults to os.Stdout.
func (b *ChatBuilder) WithOutputWriter(w io.Writer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if w == nil {
		b.err = errors.New("output writer cannot be nil")
		return b
	}
	b.outputWriter = w
	return b
}

// WithMarkdown forces rendering the final answer as terminal markdown
// instead of streaming raw text. Defaults to on for terminals.
func (b *ChatBuilder) WithMarkdown(on bool) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.markdown = &on
	return b
}

// Build validates the configuration and starts the session.
func (b *ChatBuilder) Build() (*ChatSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.prompts == nil {
		return nil, errors.New("prompt builder is required (use WithPromptBuilder)")
	}
	if b.generator == nil {
		return nil, errors.New("generator is required (use WithGenerator)")
	}
	if b.mode == "" {
		return nil, errors.New("run mode is required (use WithMode)")
	}
	if (b.mode == RunModeChat || b.mode == RunModeInteractive) && b.bus == nil {
		return nil, errors.New("bus is required for chat mode (use WithBus)")
	}
	if (b.mode == RunModeBlocking || b.mode == RunModeInteractive) && b.outputWriter == nil {
		return nil, errors.New("output writer cannot be nil for blocking or interactive mode")
	}

	convID := b.convID
	if convID == "" {
		convID = uuid.NewString()
	}
	markdown, width := outputFormat(b.outputWriter)
	if b.markdown != nil {
		markdown = *b.markdown
	}

	presenter := &switchPresenter{target: session.NopPresenter{}}
	sess, err := session.New(convID, session.Options{
		Prompts:   b.prompts,
		Generator: b.generator,
		Presenter: presenter,
		Secrets:   b.secrets,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}

	return &ChatSession{
		ctx:            b.ctx,
		convID:         convID,
		bus:            b.bus,
		turnStore:      b.turnStore,
		modelOptions:   b.modelOptions,
		programOptions: b.programOptions,
		mode:           b.mode,
		outputWriter:   b.outputWriter,
		query:          b.query,
		markdown:       markdown,
		width:          width,
		presenter:      presenter,
		sess:           sess,
	}, nil
}

// askForChatContinuation asks on the terminal whether to keep chatting.
func askForChatContinuation() (bool, error) {
	continueInChat := true
	err := huh.NewConfirm().
		Title("Do you want to continue in chat mode?").
		Affirmative("Yes").
		Negative("No").
		Value(&continueInChat).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to get user input")
	}
	return continueInChat, nil
}
