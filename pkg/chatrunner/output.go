package chatrunner

import (
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
	"github.com/go-go-golems/healthchat/pkg/ui"
)

const defaultWidth = 80

// outputFormat renders markdown only when w is a terminal, wrapped to its
// width.
func outputFormat(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false, defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = defaultWidth
	}
	return true, width
}

// switchPresenter forwards to a presenter that can change between runs, so
// one session can first answer on stdout and then continue in the TUI.
type switchPresenter struct {
	mu     sync.RWMutex
	target session.Presenter
}

var _ session.Presenter = (*switchPresenter)(nil)

func (s *switchPresenter) set(p session.Presenter) {
	s.mu.Lock()
	s.target = p
	s.mu.Unlock()
}

func (s *switchPresenter) get() session.Presenter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

func (s *switchPresenter) Render(turns []transcript.Turn) { s.get().Render(turns) }

func (s *switchPresenter) RenderLive(role transcript.Role, text string, status session.LiveStatus) {
	s.get().RenderLive(role, text, status)
}

func (s *switchPresenter) RenderState(state session.State) { s.get().RenderState(state) }

// writerPresenter streams answer deltas to a writer. In markdown mode it
// stays quiet until the answer is complete and prints it rendered.
type writerPresenter struct {
	w        io.Writer
	markdown bool
	width    int

	mu      sync.Mutex
	written int
	failed  bool
	err     error
}

func newWriterPresenter(w io.Writer, markdown bool, width int) *writerPresenter {
	if width <= 0 {
		width = defaultWidth
	}
	return &writerPresenter{w: w, markdown: markdown, width: width}
}

func (p *writerPresenter) Render([]transcript.Turn) {}

func (p *writerPresenter) RenderState(state session.State) {
	if state == session.UserTurnCommitted {
		p.mu.Lock()
		p.written = 0
		p.failed = false
		p.mu.Unlock()
	}
}

func (p *writerPresenter) RenderLive(_ transcript.Role, text string, status session.LiveStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch status {
	case session.LiveStreaming:
		if p.markdown {
			return
		}
		p.writeDelta(strings.TrimSuffix(text, session.StreamingMarker))
	case session.LiveDone:
		if p.markdown {
			p.write(p.render(text))
			return
		}
		p.writeDelta(text)
		p.write("\n")
	case session.LiveFailed:
		p.failed = true
		if p.written > 0 {
			p.write("\n")
		}
		p.write(text + "\n")
	}
}

func (p *writerPresenter) render(text string) string {
	r, err := ui.NewMarkdownRenderer(ui.MarkdownStyle(), p.width)
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

// writeDelta writes the part of text beyond what was already written.
func (p *writerPresenter) writeDelta(text string) {
	if len(text) <= p.written {
		return
	}
	delta := text[p.written:]
	p.written = len(text)
	p.write(delta)
}

func (p *writerPresenter) write(s string) {
	if p.err != nil || s == "" {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *writerPresenter) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *writerPresenter) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
