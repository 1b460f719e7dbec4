package generation

import (
	"context"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

// GeminiSettings configures the hosted Gemini client.
type GeminiSettings struct {
	APIKey string
	Model  string
}

// GeminiClient streams answers from the Gemini generative language API.
// One client is shared by all sessions of a process.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

var _ Generator = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, s GeminiSettings) (*GeminiClient, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	name := strings.TrimSpace(s.Model)
	if name == "" {
		name = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(s.APIKey))
	if err != nil {
		return nil, errors.Wrap(err, "gemini: create client")
	}
	return &GeminiClient{
		client: client,
		model:  client.GenerativeModel(name),
		name:   name,
	}, nil
}

func (g *GeminiClient) Model() string { return g.name }

func (g *GeminiClient) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		it := g.model.GenerateContentStream(ctx, genai.Text(prompt))
		chunks := 0
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				log.Debug().Str("component", "generation").Str("model", g.name).Int("chunks", chunks).Msg("gemini stream finished")
				return
			}
			if err != nil {
				yield(Fragment{}, Wrap("gemini stream", err))
				return
			}
			chunks++
			if !yield(Fragment{Text: textOf(resp)}, nil) {
				return
			}
		}
	}
}

// textOf returns the first part of the first candidate when it is text.
func textOf(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	if t, ok := c.Content.Parts[0].(genai.Text); ok {
		return string(t)
	}
	return ""
}
