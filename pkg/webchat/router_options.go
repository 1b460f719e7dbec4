package webchat

import (
	"io/fs"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/healthchat/pkg/generation"
	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/healthchat/pkg/session"
)

// RouterOption configures optional dependencies for a Router.
type RouterOption func(*Router) error

func WithStaticFS(staticFS fs.FS) RouterOption {
	return func(r *Router) error {
		r.staticFS = staticFS
		return nil
	}
}

func WithPromptBuilder(b session.PromptBuilder) RouterOption {
	return func(r *Router) error {
		if b == nil {
			return errors.New("prompt builder is nil")
		}
		r.prompts = b
		return nil
	}
}

func WithGenerator(g generation.Generator) RouterOption {
	return func(r *Router) error {
		if g == nil {
			return errors.New("generator is nil")
		}
		r.generator = g
		return nil
	}
}

// WithSecrets lists values masked out of error turns.
func WithSecrets(secrets ...string) RouterOption {
	return func(r *Router) error {
		r.secrets = append(r.secrets, secrets...)
		return nil
	}
}

// WithTurnStore replaces the turn log configured by Settings. The caller
// keeps ownership of the store.
func WithTurnStore(s chatstore.TurnStore) RouterOption {
	return func(r *Router) error {
		if s == nil {
			return errors.New("turn store is nil")
		}
		r.turnStore = s
		return nil
	}
}

func WithWebSocketUpgrader(u websocket.Upgrader) RouterOption {
	return func(r *Router) error {
		r.upgrader = u
		return nil
	}
}
