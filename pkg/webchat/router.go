package webchat

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/events"
	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/healthchat/pkg/redisstream"
	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

// NewRouter creates the conversation manager and registers every HTTP route
// on an internal mux.
func NewRouter(ctx context.Context, s Settings, bus *redisstream.Bus, opts ...RouterOption) (*Router, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	if bus == nil || bus.Publisher == nil || bus.Subscriber == nil {
		return nil, errors.New("event bus is not configured")
	}
	r := &Router{
		baseCtx:  ctx,
		settings: s,
		mux:      http.NewServeMux(),
		bus:      bus,
		renderer: NewMarkdownRenderer(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.prompts == nil {
		return nil, errors.New("prompt builder is not configured")
	}
	if r.generator == nil {
		return nil, errors.New("generator is not configured")
	}

	if r.turnStore == nil {
		store, err := openTurnStore(s)
		if err != nil {
			return nil, err
		}
		r.turnStore = store
		r.ownsStore = true
	}

	r.cm = NewConvManager(ConvManagerOptions{
		BaseCtx:         ctx,
		Publisher:       bus.Publisher,
		BuildSubscriber: r.buildSubscriber,
		BuildSession:    r.buildSession,
		Renderer:        r.renderer,
		IdleTimeout:     time.Duration(s.IdleTimeoutSeconds) * time.Second,
	})
	r.cm.SetEvictionConfig(
		time.Duration(s.EvictIdleSeconds)*time.Second,
		time.Duration(s.EvictIntervalSeconds)*time.Second,
	)

	r.registerHTTPHandlers()
	return r, nil
}

// openTurnStore picks the debug turn log from settings: a DSN, a file path,
// or a process-private in-memory database.
func openTurnStore(s Settings) (chatstore.TurnStore, error) {
	if dsn := strings.TrimSpace(s.TurnsDSN); dsn != "" {
		store, err := chatstore.NewSQLiteTurnStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open turn store (dsn)")
		}
		return store, nil
	}
	if p := strings.TrimSpace(s.TurnsDB); p != "" {
		if dir := filepath.Dir(p); dir != "" && dir != "." {
			_ = os.MkdirAll(dir, 0755)
		}
		dsn, err := chatstore.SQLiteTurnDSNForFile(p)
		if err != nil {
			return nil, errors.Wrap(err, "build turn DSN")
		}
		store, err := chatstore.NewSQLiteTurnStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open turn store (file)")
		}
		return store, nil
	}
	store, err := chatstore.NewSQLiteTurnStore(chatstore.SQLiteMemoryDSN("healthchat-" + uuid.NewString()))
	if err != nil {
		return nil, errors.Wrap(err, "open turn store (memory)")
	}
	return store, nil
}

func (r *Router) buildSession(convID string, presenter session.Presenter) (*session.Session, error) {
	var observers []transcript.Observer
	if p := newTurnPersister(r.turnStore, convID); p != nil {
		observers = append(observers, p)
	}
	return session.New(convID, session.Options{
		Prompts:   r.prompts,
		Generator: r.generator,
		Presenter: presenter,
		Secrets:   r.secrets,
		Observers: observers,
	})
}

// buildSubscriber shares the in-memory bus, or gives each conversation its
// own Redis consumer group positioned at the stream tail.
func (r *Router) buildSubscriber(convID string) (message.Subscriber, bool, error) {
	if !r.bus.UsesRedis() {
		return r.bus.Subscriber, false, nil
	}
	group := "healthchat-" + convID
	if err := redisstream.EnsureGroupAtTail(r.baseCtx, r.bus.Redis, events.TopicForConv(convID), group); err != nil {
		return nil, false, err
	}
	sub, err := redisstream.BuildGroupSubscriber(r.bus.Redis, group, "web-"+uuid.NewString()[:8], r.watermillLogger())
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (r *Router) watermillLogger() *events.WatermillLogger {
	return events.NewWatermillLogger(log.Logger)
}

// Handler returns the mux with every route registered.
func (r *Router) Handler() http.Handler { return r.mux }

func (r *Router) ConvManager() *ConvManager { return r.cm }

func (r *Router) TurnStore() chatstore.TurnStore { return r.turnStore }

// BuildHTTPServer constructs an http.Server around the router.
func (r *Router) BuildHTTPServer() *http.Server {
	return &http.Server{
		Addr:              r.settings.Addr,
		Handler:           r.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Close releases conversations and the turn log if the router opened it.
func (r *Router) Close() error {
	r.cm.Close()
	if r.ownsStore && r.turnStore != nil {
		return r.turnStore.Close()
	}
	return nil
}

func (r *Router) registerHTTPHandlers() {
	r.registerUIHandlers(r.mux)

	r.mux.HandleFunc("POST /chat", r.handleChat)
	r.mux.HandleFunc("GET /ws", r.handleWS)
	r.mux.HandleFunc("GET /api/conversations/{id}/transcript", r.handleTranscript)
	r.mux.HandleFunc("DELETE /api/conversations/{id}/run", r.handleCancel)
	r.mux.Handle("GET /metrics", promhttp.Handler())
	r.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if r.settings.DebugRoutes {
		r.registerDebugAPIHandlers(r.mux)
	}
}

func (r *Router) registerUIHandlers(mux *http.ServeMux) {
	logger := log.With().Str("component", "webchat").Logger()

	if r.staticFS == nil {
		logger.Warn().Msg("static FS not configured; UI handler disabled")
		return
	}

	if staticSub, err := fs.Sub(r.staticFS, "static"); err == nil {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	} else {
		logger.Warn().Err(err).Msg("failed to mount /static/ asset handler")
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		b, err := fs.ReadFile(r.staticFS, "static/index.html")
		if err != nil {
			logger.Error().Err(err).Msg("index not found in embedded FS")
			http.Error(w, "index not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})
}
