package ui

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	Title        = "⚕️ Your Health Assistant"
	Introduction = "Hello! I am here to provide general information on health and wellness. " +
		"I can give advice on nutrition, exercise, and lifestyle, and can suggest common " +
		"over-the-counter medicines. " +
		"**Disclaimer: I am not a medical professional. Always consult a doctor " +
		"for professional medical advice.**"
	Placeholder = "Ask a health-related question..."
)

type Styles struct {
	Title     lipgloss.Style
	Intro     lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	UserText  lipgloss.Style
	Error     lipgloss.Style
	Status    lipgloss.Style
	Help      lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).MarginBottom(1),
		Intro:     lipgloss.NewStyle().Faint(true),
		UserLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
		BotLabel:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		UserText:  lipgloss.NewStyle().PaddingLeft(2),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).PaddingLeft(2),
		Status:    lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
	}
}

// MarkdownStyle picks a markdown style for the terminal's background, or
// the plain style when there is no color support.
func MarkdownStyle() string {
	if termenv.EnvColorProfile() == termenv.Ascii {
		return styles.NoTTYStyle
	}
	if termenv.HasDarkBackground() {
		return styles.DarkStyle
	}
	return styles.LightStyle
}

func NewMarkdownRenderer(style string, width int) (*glamour.TermRenderer, error) {
	if width < 20 {
		width = 20
	}
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
}
