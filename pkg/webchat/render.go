package webchat

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/go-go-golems/healthchat/pkg/events"
)

// MarkdownRenderer turns answer markdown into sanitized HTML for the browser.
type MarkdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

func (r *MarkdownRenderer) Render(markdown string) string {
	if markdown == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("markdown render failed, escaping")
		return r.policy.Sanitize("<p>" + markdown + "</p>")
	}
	return r.policy.Sanitize(buf.String())
}

// decorate fills the HTML fields of a frame before it goes to a browser.
func (r *MarkdownRenderer) decorate(f events.Frame) events.Frame {
	if r == nil {
		return f
	}
	switch f.Type {
	case events.FrameLive:
		f.HTML = r.Render(f.Text)
	case events.FrameTranscript:
		f.TurnsHTML = make([]string, len(f.Turns))
		for i, t := range f.Turns {
			f.TurnsHTML[i] = r.Render(t.Content)
		}
	case events.FrameState:
	}
	return f
}
