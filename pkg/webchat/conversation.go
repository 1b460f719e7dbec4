package webchat

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/events"
	"github.com/go-go-golems/healthchat/pkg/metrics"
	"github.com/go-go-golems/healthchat/pkg/session"
)

// Conversation holds per-conversation state and streaming attachments.
type Conversation struct {
	ID   string
	Sess *session.Session

	mu           sync.Mutex
	pool         *ConnectionPool
	stream       *StreamCoordinator
	sub          message.Subscriber
	subClose     bool
	lastActivity time.Time
	createdAt    time.Time
}

func (c *Conversation) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conversation) isBusyLocked() bool {
	if c == nil || c.Sess == nil {
		return false
	}
	return c.Sess.Controller.IsRunning()
}

func (c *Conversation) handleFrame(r *MarkdownRenderer) func(events.Frame, StreamCursor) {
	return func(f events.Frame, _ StreamCursor) {
		b, err := r.decorate(f).Marshal()
		if err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conv_id", c.ID).Msg("frame marshal failed")
			return
		}
		c.pool.Broadcast(b)
	}
}

// attach adds conn to the broadcast pool and then replays the session
// through the bus, so the catch-up frames are ordered after anything the
// socket may already have received.
func (c *Conversation) attach(conn wsConn) {
	c.touch()
	c.pool.Add(conn)
	c.Sess.Controller.Refresh()
}

// SessionBuilder creates the session of a new conversation around presenter.
type SessionBuilder func(convID string, presenter session.Presenter) (*session.Session, error)

// SubscriberBuilder returns the subscriber for a conversation topic and
// whether the conversation owns (and must close) it.
type SubscriberBuilder func(convID string) (message.Subscriber, bool, error)

type ConvManagerOptions struct {
	BaseCtx         context.Context
	Publisher       message.Publisher
	BuildSubscriber SubscriberBuilder
	BuildSession    SessionBuilder
	Renderer        *MarkdownRenderer
	// IdleTimeout stops the stream reader once no socket is attached.
	IdleTimeout time.Duration
}

// ConvManager stores all live conversations.
type ConvManager struct {
	mu    sync.Mutex
	conns map[string]*Conversation

	baseCtx         context.Context
	publisher       message.Publisher
	buildSubscriber SubscriberBuilder
	buildSession    SessionBuilder
	renderer        *MarkdownRenderer
	idleTimeout     time.Duration

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewConvManager(opts ConvManagerOptions) *ConvManager {
	if opts.BaseCtx == nil {
		panic("webchat: NewConvManager requires non-nil BaseCtx")
	}
	r := opts.Renderer
	if r == nil {
		r = NewMarkdownRenderer()
	}
	return &ConvManager{
		conns:           map[string]*Conversation{},
		baseCtx:         opts.BaseCtx,
		publisher:       opts.Publisher,
		buildSubscriber: opts.BuildSubscriber,
		buildSession:    opts.BuildSession,
		renderer:        r,
		idleTimeout:     opts.IdleTimeout,
	}
}

func (cm *ConvManager) GetConversation(convID string) (*Conversation, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.conns[convID]
	return c, ok
}

func (cm *ConvManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.conns)
}

func (cm *ConvManager) list() []*Conversation {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]*Conversation, 0, len(cm.conns))
	for _, c := range cm.conns {
		out = append(out, c)
	}
	return out
}

// GetOrCreate returns the conversation for convID, creating its session,
// subscriber and stream reader on first use.
func (cm *ConvManager) GetOrCreate(convID string) (*Conversation, error) {
	if convID == "" {
		return nil, errors.New("empty conversation id")
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if c, ok := cm.conns[convID]; ok {
		c.touch()
		return c, nil
	}
	if cm.buildSession == nil || cm.buildSubscriber == nil || cm.publisher == nil {
		return nil, errors.New("conversation manager is not fully configured")
	}

	now := time.Now()
	conv := &Conversation{ID: convID, lastActivity: now, createdAt: now}
	conv.pool = NewConnectionPool(convID, cm.idleTimeout, func() {
		log.Debug().Str("component", "webchat").Str("conv_id", convID).Msg("no sockets left, stopping stream reader")
		conv.stream.Stop()
	})

	sub, owned, err := cm.buildSubscriber(convID)
	if err != nil {
		return nil, errors.Wrap(err, "build subscriber")
	}
	conv.sub = sub
	conv.subClose = owned
	conv.stream = NewStreamCoordinator(convID, sub, conv.handleFrame(cm.renderer))
	if err := conv.stream.Start(cm.baseCtx); err != nil {
		cm.closeSubscriber(conv)
		return nil, err
	}

	sess, err := cm.buildSession(convID, events.NewSink(convID, cm.publisher))
	if err != nil {
		conv.stream.Stop()
		cm.closeSubscriber(conv)
		return nil, errors.Wrap(err, "build session")
	}
	conv.Sess = sess

	cm.conns[convID] = conv
	metrics.LiveConversations.Inc()
	log.Info().Str("component", "webchat").Str("conv_id", convID).Msg("conversation created")
	return conv, nil
}

func (cm *ConvManager) closeSubscriber(conv *Conversation) {
	if conv.subClose && conv.sub != nil {
		if err := conv.sub.Close(); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conv_id", conv.ID).Msg("subscriber close failed")
		}
	}
}

// ensureStreaming restarts a reader stopped by the idle timer.
func (cm *ConvManager) ensureStreaming(conv *Conversation) error {
	if conv.stream.IsRunning() {
		return nil
	}
	return conv.stream.Start(cm.baseCtx)
}

// Close tears down every conversation.
func (cm *ConvManager) Close() {
	cm.mu.Lock()
	convs := make([]*Conversation, 0, len(cm.conns))
	for id, c := range cm.conns {
		convs = append(convs, c)
		delete(cm.conns, id)
	}
	cm.mu.Unlock()
	for _, c := range convs {
		cm.cleanupConversation(c)
	}
}
