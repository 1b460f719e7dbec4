package main

import (
	"context"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/config"
	"github.com/go-go-golems/healthchat/pkg/generation"
	"github.com/go-go-golems/healthchat/pkg/prompt"
)

// engine is a generator plus what callers must do with it afterwards.
type engine struct {
	generation.Generator
	// secrets are masked out of error turns.
	secrets []string
	close   func() error
}

func buildEngine(ctx context.Context, s config.GenerationSettings, interactive bool) (*engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !s.NeedsAPIKey() {
		log.Info().Str("engine", s.Engine).Msg("using offline echo engine")
		return &engine{
			Generator: generation.NewEchoGenerator(time.Duration(s.EchoDelayMs) * time.Millisecond),
			close:     func() error { return nil },
		}, nil
	}

	key, source, err := config.DefaultKeyResolver(interactive).Resolve(s)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("source", string(source)).Msg("resolved Google API key")

	client, err := generation.NewGeminiClient(ctx, generation.GeminiSettings{APIKey: key, Model: s.Model})
	if err != nil {
		return nil, err
	}
	log.Info().Str("engine", s.Engine).Str("model", client.Model()).Msg("using Gemini engine")
	return &engine{Generator: client, secrets: []string{key}, close: client.Close}, nil
}

func buildPromptBuilder(s config.PromptSettings) (*prompt.Builder, error) {
	opts := []prompt.Option{
		prompt.WithPersona(s.Persona),
		prompt.WithDisclaimer(s.Disclaimer),
	}
	if s.TemplateFile != "" {
		b, err := os.ReadFile(s.TemplateFile)
		if err != nil {
			return nil, errors.Wrap(err, "read prompt template")
		}
		opts = append(opts, prompt.WithTemplate(string(b)))
	}
	return prompt.NewBuilder(opts...)
}

func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
