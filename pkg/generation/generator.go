// Package generation streams answers from a text generation service.
package generation

import (
	"context"
	"iter"
)

// Fragment is one piece of streamed answer text. Text may be empty when the
// service sends a chunk without a text part.
type Fragment struct {
	Text string
}

// Generator starts a streaming generation for a wrapped prompt.
//
// The returned sequence is finite, ordered and cannot be restarted. A failure
// is yielded once as a non-nil error (a *GenerationError) and ends the
// sequence. Cancelling ctx ends the stream with an error.
type Generator interface {
	Generate(ctx context.Context, prompt string) iter.Seq2[Fragment, error]
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) iter.Seq2[Fragment, error]

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) iter.Seq2[Fragment, error] {
	return f(ctx, prompt)
}
