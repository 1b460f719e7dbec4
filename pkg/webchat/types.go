package webchat

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/healthchat/pkg/generation"
	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/healthchat/pkg/redisstream"
	"github.com/go-go-golems/healthchat/pkg/session"
)

// Settings configures the web server.
type Settings struct {
	Addr                 string `mapstructure:"addr" yaml:"addr"`
	IdleTimeoutSeconds   int    `mapstructure:"idle-timeout-seconds" yaml:"idle-timeout-seconds"`
	EvictIdleSeconds     int    `mapstructure:"evict-idle-seconds" yaml:"evict-idle-seconds"`
	EvictIntervalSeconds int    `mapstructure:"evict-interval-seconds" yaml:"evict-interval-seconds"`
	// Debug turn log configuration. Use either turns-dsn (full sqlite DSN)
	// or turns-db (file path; DSN derived). Neither means an in-memory db.
	TurnsDSN string `mapstructure:"turns-dsn" yaml:"turns-dsn"`
	TurnsDB  string `mapstructure:"turns-db" yaml:"turns-db"`
	// DebugRoutes enables /api/debug/*.
	DebugRoutes bool `mapstructure:"debug-routes" yaml:"debug-routes"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:                 ":8080",
		IdleTimeoutSeconds:   60,
		EvictIdleSeconds:     1800,
		EvictIntervalSeconds: 60,
		DebugRoutes:          true,
	}
}

// AddFlags registers the web server flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := DefaultSettings()
	fs.String("addr", d.Addr, "HTTP listen address")
	fs.Int("idle-timeout-seconds", d.IdleTimeoutSeconds, "Stop a conversation's stream reader after this many seconds without sockets (0 disables)")
	fs.Int("evict-idle-seconds", d.EvictIdleSeconds, "Drop conversations idle for this many seconds (0 disables)")
	fs.Int("evict-interval-seconds", d.EvictIntervalSeconds, "Interval between idle conversation sweeps")
	fs.String("turns-dsn", "", "SQLite DSN for the debug turn log")
	fs.String("turns-db", "", "SQLite file for the debug turn log (DSN derived)")
	fs.Bool("debug-routes", d.DebugRoutes, "Serve /api/debug/* endpoints")
}

// FromViper reads the settings registered by AddFlags.
func FromViper(v *viper.Viper) Settings {
	return Settings{
		Addr:                 v.GetString("addr"),
		IdleTimeoutSeconds:   v.GetInt("idle-timeout-seconds"),
		EvictIdleSeconds:     v.GetInt("evict-idle-seconds"),
		EvictIntervalSeconds: v.GetInt("evict-interval-seconds"),
		TurnsDSN:             v.GetString("turns-dsn"),
		TurnsDB:              v.GetString("turns-db"),
		DebugRoutes:          v.GetBool("debug-routes"),
	}
}

// Router wires HTTP endpoints and conversation lifecycle.
type Router struct {
	baseCtx  context.Context
	settings Settings
	mux      *http.ServeMux
	staticFS fs.FS

	// event bus (in-memory or Redis)
	bus *redisstream.Bus

	// session collaborators shared by all conversations
	prompts   session.PromptBuilder
	generator generation.Generator
	secrets   []string

	turnStore chatstore.TurnStore
	ownsStore bool

	cm       *ConvManager
	renderer *MarkdownRenderer
	upgrader websocket.Upgrader
}
