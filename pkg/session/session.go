// Package session owns the per-conversation turn cycle: a transcript store
// and the controller that moves it from user input to a committed answer.
package session

import (
	"github.com/go-go-golems/healthchat/pkg/generation"
	"github.com/go-go-golems/healthchat/pkg/metrics"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

// Session bundles the state that lives as long as one conversation.
type Session struct {
	ID         string
	Store      *transcript.Store
	Controller *Controller
}

// Options configures New.
type Options struct {
	Prompts   PromptBuilder
	Generator generation.Generator
	Presenter Presenter
	Secrets   []string
	Observers []transcript.Observer
}

// New builds a started session with an empty transcript.
func New(id string, opts Options) (*Session, error) {
	storeOpts := []transcript.StoreOption{
		transcript.WithObserver(func(_ int, t transcript.Turn) {
			metrics.RecordTurn(t.Role.String())
		}),
	}
	for _, o := range opts.Observers {
		storeOpts = append(storeOpts, transcript.WithObserver(o))
	}
	store := transcript.NewStore(storeOpts...)

	ctrl, err := NewController(Config{
		ID:        id,
		Store:     store,
		Prompts:   opts.Prompts,
		Generator: opts.Generator,
		Presenter: opts.Presenter,
		Secrets:   opts.Secrets,
	})
	if err != nil {
		return nil, err
	}
	ctrl.Start()
	return &Session{ID: id, Store: store, Controller: ctrl}, nil
}

// Turns returns a copy of the committed transcript.
func (s *Session) Turns() []transcript.Turn {
	return s.Store.All()
}
