package generation

import (
	"context"
	"iter"
	"strings"
	"time"
)

// DefaultEchoAnswer is what EchoGenerator streams when no answer is set.
const DefaultEchoAnswer = "**Disclaimer:** I am not a medical professional. " +
	"Please consult a doctor for a proper diagnosis or professional advice.\n\n" +
	"This is an offline demo answer. Configure a Google API key to talk to Gemini."

// EchoGenerator is an offline engine that streams a canned answer word by
// word. It never calls the network.
type EchoGenerator struct {
	Answer string
	Delay  time.Duration
}

var _ Generator = (*EchoGenerator)(nil)

func NewEchoGenerator(delay time.Duration) *EchoGenerator {
	return &EchoGenerator{Answer: DefaultEchoAnswer, Delay: delay}
}

func (e *EchoGenerator) Generate(ctx context.Context, _ string) iter.Seq2[Fragment, error] {
	answer := e.Answer
	if answer == "" {
		answer = DefaultEchoAnswer
	}
	return func(yield func(Fragment, error) bool) {
		for _, word := range splitKeepSpace(answer) {
			if e.Delay > 0 {
				t := time.NewTimer(e.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
					yield(Fragment{}, Wrap("echo stream", ctx.Err()))
					return
				case <-t.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield(Fragment{}, Wrap("echo stream", err))
				return
			}
			if !yield(Fragment{Text: word}, nil) {
				return
			}
		}
	}
}

// splitKeepSpace splits s after each space so that concatenating the parts
// gives back s.
func splitKeepSpace(s string) []string {
	parts := strings.SplitAfter(s, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
