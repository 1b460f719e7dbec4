// Package prompt wraps a raw user utterance into the persona prompt sent to
// the generation service.
package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

// DefaultPersona describes what the assistant is allowed to talk about.
const DefaultPersona = `You are a helpful healthcare assistant chatbot. You are designed to provide general information on health,
wellness, nutrition, exercise, and lifestyle. You can also suggest common, non-prescriptive, over-the-counter
(OTC) medicines for minor ailments like headaches or colds.`

// DefaultDisclaimer is the directive every wrapped prompt carries.
const DefaultDisclaimer = `You must include a prominent disclaimer in your response stating that you are not a medical
professional and that the user should always consult a doctor for a proper diagnosis or professional advice.
Place this disclaimer at the beginning or end of your response.`

// DefaultTemplate lays out persona, disclaimer rule and the user query.
const DefaultTemplate = `{{ .Persona }}

**IMPORTANT RULE:** {{ .Disclaimer }}

User query: {{ .Query }}
`

// Data is the value the template is executed with.
type Data struct {
	Persona    string
	Disclaimer string
	Query      string
}

// Builder renders the wrapped prompt. It holds no mutable state, so Build is
// safe for concurrent use and returns the same output for the same input.
type Builder struct {
	tmpl       *template.Template
	persona    string
	disclaimer string
}

type Option func(*builderOptions)

type builderOptions struct {
	persona    string
	disclaimer string
	template   string
}

// WithPersona replaces the persona paragraph.
func WithPersona(p string) Option {
	return func(o *builderOptions) {
		if strings.TrimSpace(p) != "" {
			o.persona = p
		}
	}
}

// WithDisclaimer replaces the disclaimer directive.
func WithDisclaimer(d string) Option {
	return func(o *builderOptions) {
		if strings.TrimSpace(d) != "" {
			o.disclaimer = d
		}
	}
}

// WithTemplate replaces the whole template. Sprig functions are available.
func WithTemplate(t string) Option {
	return func(o *builderOptions) {
		if strings.TrimSpace(t) != "" {
			o.template = t
		}
	}
}

func NewBuilder(opts ...Option) (*Builder, error) {
	o := builderOptions{
		persona:    DefaultPersona,
		disclaimer: DefaultDisclaimer,
		template:   DefaultTemplate,
	}
	for _, opt := range opts {
		opt(&o)
	}

	tmpl, err := template.New("prompt").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(o.template)
	if err != nil {
		return nil, errors.Wrap(err, "parse prompt template")
	}
	b := &Builder{tmpl: tmpl, persona: o.persona, disclaimer: o.disclaimer}

	// Fail at construction rather than on the first user question.
	if _, err := b.Build("ping"); err != nil {
		return nil, err
	}
	return b, nil
}

// Build wraps utterance into the persona prompt. The utterance is passed
// through unmodified.
func (b *Builder) Build(utterance string) (string, error) {
	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, Data{
		Persona:    b.persona,
		Disclaimer: b.disclaimer,
		Query:      utterance,
	})
	if err != nil {
		return "", errors.Wrap(err, "execute prompt template")
	}
	return buf.String(), nil
}
