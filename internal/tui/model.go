package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragqa/internal/completion"
	"ragqa/internal/service"
)

// AskPort is the TUI-facing subset of the answering service.
type AskPort interface {
	Ask(ctx context.Context, query string) (service.Answer, error)
}

// answerMsg carries the result of an asynchronous Ask.
type answerMsg struct {
	query  string
	answer service.Answer
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx       context.Context
	service   AskPort
	timeout   time.Duration
	ranker    *completion.Extractive
	input     textinput.Model
	viewport  viewport.Model
	answer    service.Answer
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model instance. summary is shown under the header.
// Questions run under ctx, so cancelling it aborts an in-flight answer; each
// question is also bounded by timeout when it is positive.
func New(ctx context.Context, svc AskPort, summary string, timeout time.Duration) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  svc,
		timeout:  timeout,
		ranker:   completion.NewExtractive(1),
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready. Type a question.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = service.Answer{}
		} else {
			m.status = fmt.Sprintf("Answer for %q", msg.query)
			m.answer = msg.answer
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				return m, m.ask(q)
			}
		case "down":
			if n := len(m.answer.Results); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if n := len(m.answer.Results); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	parent, svc, timeout := m.ctx, m.service, m.timeout
	return func() tea.Msg {
		ctx := parent
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ans, err := svc.Ask(ctx, q)
		return answerMsg{query: q, answer: ans, err: err}
	}
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Question Answering")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer.Text == "" {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.answer.Text))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Sources: "))
	b.WriteString(strings.Join(m.answer.Sources, ", "))
	if len(m.answer.Results) == 0 {
		return b.String()
	}
	r := m.answer.Results[m.cursor]
	fmt.Fprintf(&b, "\n\n%s\n\n", labelStyle.Render(fmt.Sprintf("Passage %d/%d  %s  similarity=%.3f",
		m.cursor+1, len(m.answer.Results), r.Source, r.Score)))
	b.WriteString(m.highlightBestSentence(r.Text))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

func (m Model) highlightBestSentence(text string) string {
	best := m.ranker.BestSentence(text, m.lastQuery)
	if best == "" {
		return text
	}
	return strings.Replace(text, best, highlightStyle.Render(best), 1)
}
