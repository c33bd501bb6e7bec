package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
	"ragqa/internal/service"
)

type stubAsker struct {
	answer service.Answer
	err    error
	query  string
	ctx    context.Context
}

func (s *stubAsker) Ask(ctx context.Context, q string) (service.Answer, error) {
	s.query = q
	s.ctx = ctx
	if err := ctx.Err(); err != nil {
		return service.Answer{}, err
	}
	return s.answer, s.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func submit(t *testing.T, m Model, q string) Model {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m = next.(Model)
	assert.True(t, m.busy)
	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestAskRendersAnswerAndSources(t *testing.T) {
	svc := &stubAsker{answer: service.Answer{
		Text:    "Paris.",
		Sources: []string{"france.txt", "europe.md"},
		Results: []domain.SearchResult{
			{Text: "Paris is the capital of France. It is large.", Source: "france.txt", Score: 0.8},
			{Text: "Europe has many capitals.", Source: "europe.md", Score: 0.4},
		},
	}}
	m := submit(t, sized(t, New(context.Background(), svc, "2 passages", 0)), "  capital of France  ")

	assert.Equal(t, "capital of France", svc.query)
	assert.False(t, m.busy)
	view := m.renderAnswer()
	assert.Contains(t, view, "Paris.")
	assert.Contains(t, view, "france.txt, europe.md")
	assert.Contains(t, view, "Passage 1/2")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderAnswer(), "Passage 2/2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, next.(Model).cursor)
}

func TestAskErrorShownInStatus(t *testing.T) {
	m := submit(t, sized(t, New(context.Background(), &stubAsker{err: errors.New("no answer available")}, "", 0)), "q")
	assert.Contains(t, m.status, "no answer available")
	assert.Equal(t, "No answer yet.", m.renderAnswer())
}

func TestEmptyInputDoesNotAsk(t *testing.T) {
	svc := &stubAsker{}
	m := sized(t, New(context.Background(), svc, "", 0))
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, next.(Model).busy)
	assert.Empty(t, svc.query)
}

func TestViewBeforeResize(t *testing.T) {
	assert.Equal(t, "Loading...", New(context.Background(), &stubAsker{}, "", 0).View())
}

func TestAskRunsUnderProgramContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &stubAsker{answer: service.Answer{Text: "late"}}
	m := sized(t, New(ctx, svc, "", time.Minute))
	cancel()

	m = submit(t, m, "q")
	require.NotNil(t, svc.ctx)
	require.ErrorIs(t, svc.ctx.Err(), context.Canceled)
	_, hasDeadline := svc.ctx.Deadline()
	assert.True(t, hasDeadline)
	assert.Contains(t, m.status, context.Canceled.Error())
	assert.Equal(t, "No answer yet.", m.renderAnswer())
}
