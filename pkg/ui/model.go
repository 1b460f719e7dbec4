package ui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

type KeyMap struct {
	Submit key.Binding
	Cancel key.Binding
	Copy   key.Binding
	Quit   key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop answer")),
		Copy:   key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy answer")),
		Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

var errNothingToCopy = errors.New("no answer to copy yet")

type submitErrMsg struct{ err error }

type copiedMsg struct{ err error }

type ModelOption func(*Model)

// WithInitialTranscript seeds the view before the first transcript frame.
func WithInitialTranscript(turns []transcript.Turn, state session.State) ModelOption {
	return func(m *Model) {
		m.turns = append([]transcript.Turn(nil), turns...)
		m.state = state
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) ModelOption {
	return func(m *Model) {
		if write != nil {
			m.copyText = write
		}
	}
}

// WithMarkdownStyle forces a glamour standard style.
func WithMarkdownStyle(style string) ModelOption {
	return func(m *Model) {
		if style != "" {
			m.mdStyle = style
		}
	}
}

// Model is the terminal chat: a scrolling transcript, a live answer bubble
// and an input box that is only enabled while the controller awaits input.
type Model struct {
	ctx     context.Context
	backend Backend

	keys     KeyMap
	styles   Styles
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	mdStyle  string
	renderer *glamour.TermRenderer
	copyText func(string) error

	turns []transcript.Turn
	// errorTurns marks committed turns that arrived as failures.
	errorTurns map[int]bool
	failedText string
	live       *LiveMsg
	state      session.State
	notice     string

	width  int
	height int
	ready  bool
}

func NewModel(ctx context.Context, backend Backend, opts ...ModelOption) Model {
	ta := textarea.New()
	ta.Placeholder = Placeholder
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.CharLimit = 4000
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:        ctx,
		backend:    backend,
		keys:       DefaultKeyMap(),
		styles:     DefaultStyles(),
		viewport:   viewport.New(80, 20),
		input:      ta,
		spinner:    sp,
		mdStyle:    MarkdownStyle(),
		copyText:   clipboard.WriteAll,
		errorTurns: map[int]bool{},
		state:      session.AwaitingInput,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.renderer, _ = NewMarkdownRenderer(m.mdStyle, 80)
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.backend != nil {
				m.backend.Cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			if m.backend != nil && m.backend.Cancel() {
				m.notice = "stopping answer..."
			}
			return m, nil
		case key.Matches(msg, m.keys.Copy):
			return m, m.copyLastAnswer()
		case key.Matches(msg, m.keys.Submit):
			return m.submit()
		}

	case TranscriptMsg:
		m.turns = msg.Turns
		if m.failedText != "" && len(m.turns) > 0 {
			last := len(m.turns) - 1
			if m.turns[last].Role == transcript.RoleAssistant && m.turns[last].Content == m.failedText {
				m.errorTurns[last] = true
			}
			m.failedText = ""
		}
		m.live = nil
		m.refresh()

	case LiveMsg:
		if msg.Status == session.LiveFailed {
			m.failedText = msg.Text
		}
		live := msg
		m.live = &live
		m.refresh()

	case StateMsg:
		m.state = msg.State
		if m.state.AcceptsInput() {
			m.notice = ""
			m.input.Focus()
		} else {
			m.input.Blur()
		}

	case submitErrMsg:
		m.notice = msg.err.Error()
		// a rejected submit commits nothing, so unlock the input again
		if m.state == session.UserTurnCommitted {
			m.state = session.AwaitingInput
			m.input.Focus()
		}

	case copiedMsg:
		if msg.err != nil {
			m.notice = "copy failed: " + msg.err.Error()
		} else {
			m.notice = "answer copied to clipboard"
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state.AcceptsInput() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	// typed characters belong to the input, not to viewport paging
	if km, ok := msg.(tea.KeyMsg); !ok || (km.Type != tea.KeyRunes && km.Type != tea.KeySpace) {
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)
	}

	return m, tea.Batch(cmds...)
}

// submit hands the input to the controller from a command, never from
// Update itself: the controller publishes frames that this program has to
// receive before the publish returns.
func (m Model) submit() (tea.Model, tea.Cmd) {
	if !m.state.AcceptsInput() || m.backend == nil {
		return m, nil
	}
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.input.Reset()
	m.input.Blur()
	m.notice = ""
	// input stays locked until the controller reports back
	m.state = session.UserTurnCommitted

	backend, ctx := m.backend, m.ctx
	return m, func() tea.Msg {
		if err := backend.Submit(ctx, text); err != nil {
			log.Debug().Err(err).Str("component", "ui").Msg("submit rejected")
			return submitErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) copyLastAnswer() tea.Cmd {
	var answer string
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].Role == transcript.RoleAssistant && !m.errorTurns[i] {
			answer = m.turns[i].Content
			break
		}
	}
	if answer == "" {
		return func() tea.Msg { return copiedMsg{err: errNothingToCopy} }
	}
	write := m.copyText
	return func() tea.Msg { return copiedMsg{err: write(answer)} }
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	headerHeight := lipgloss.Height(m.headerView())
	footerHeight := lipgloss.Height(m.footerView())
	vh := h - headerHeight - footerHeight
	if vh < 3 {
		vh = 3
	}
	m.viewport.Width = w
	m.viewport.Height = vh
	m.input.SetWidth(w)
	if r, err := NewMarkdownRenderer(m.mdStyle, w-4); err == nil {
		m.renderer = r
	}
	m.ready = true
	m.refresh()
}

func (m *Model) renderMarkdown(s string) string {
	if m.renderer == nil {
		return s
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

func (m *Model) refresh() {
	var b strings.Builder
	for i, t := range m.turns {
		b.WriteString(m.turnView(t, m.errorTurns[i]))
		b.WriteString("\n\n")
	}
	if m.live != nil {
		b.WriteString(m.styles.BotLabel.Render(m.live.Role.DisplayName()))
		b.WriteString("\n")
		switch m.live.Status {
		case session.LiveFailed:
			b.WriteString(m.styles.Error.Render(m.live.Text))
		case session.LiveDone:
			b.WriteString(m.renderMarkdown(m.live.Text))
		default:
			b.WriteString(m.styles.UserText.Render(m.live.Text))
		}
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) turnView(t transcript.Turn, failed bool) string {
	switch {
	case t.Role == transcript.RoleUser:
		return m.styles.UserLabel.Render(t.Role.DisplayName()) + "\n" + m.styles.UserText.Render(t.Content)
	case failed:
		return m.styles.BotLabel.Render(t.Role.DisplayName()) + "\n" + m.styles.Error.Render(t.Content)
	default:
		return m.styles.BotLabel.Render(t.Role.DisplayName()) + "\n" + m.renderMarkdown(t.Content)
	}
}

func (m Model) headerView() string {
	intro := m.renderMarkdown(Introduction)
	return m.styles.Title.Render(Title) + "\n" + m.styles.Intro.Render(intro)
}

func (m Model) footerView() string {
	status := ""
	switch {
	case m.notice != "":
		status = m.notice
	case m.state == session.Streaming || m.state == session.UserTurnCommitted:
		status = m.spinner.View() + " thinking..."
	}
	help := strings.Join([]string{
		m.keys.Submit.Help().Key + " " + m.keys.Submit.Help().Desc,
		m.keys.Cancel.Help().Key + " " + m.keys.Cancel.Help().Desc,
		m.keys.Copy.Help().Key + " " + m.keys.Copy.Help().Desc,
		m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc,
	}, " • ")
	return m.styles.Status.Render(status) + "\n" + m.input.View() + "\n" + m.styles.Help.Render(help)
}

func (m Model) View() string {
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.footerView()
}
