// Package service composes retrieval and completion into answers.
package service

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"

	"ragqa/internal/completion"
	"ragqa/internal/domain"
	"ragqa/internal/logging"
)

// DefaultTopK is the number of passages placed in a prompt.
const DefaultTopK = 4

// DefaultTemplate renders the prompt sent to the completer. It receives
// .Context (numbered passages) and .Question.
const DefaultTemplate = `Answer the question using only the context below. If the context does not contain the answer, say that you do not know.

` + completion.ContextMarker + `
{{.Context}}

` + completion.QuestionMarker + ` {{.Question}}
Answer:`

// Retriever returns the passages most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Options tunes the answering service.
type Options struct {
	TopK     int
	Template string
	Log      logrus.FieldLogger
}

// Answer is the completer's text plus the passages it was grounded on.
type Answer struct {
	Text    string
	Sources []string
	Results []domain.SearchResult
}

// RAGService answers questions from retrieved context.
type RAGService struct {
	retriever Retriever
	completer domain.Completer
	topK      int
	tmpl      *template.Template
	log       logrus.FieldLogger
}

// NewRAGService validates opts and returns the service.
func NewRAGService(r Retriever, c domain.Completer, opts Options) (*RAGService, error) {
	if r == nil || c == nil {
		return nil, fmt.Errorf("%w: service needs a retriever and a completer", domain.ErrConfiguration)
	}
	if opts.TopK == 0 {
		opts.TopK = DefaultTopK
	}
	if opts.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrConfiguration, opts.TopK)
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt template: %w", domain.ErrConfiguration, err)
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	return &RAGService{retriever: r, completer: c, topK: opts.TopK, tmpl: tmpl, log: opts.Log}, nil
}

// Ask retrieves context for query and asks the completer for an answer.
// Empty queries are rejected before any retrieval. A completer failure is
// reported as domain.ErrUnavailable and no partial answer is returned.
func (s *RAGService) Ask(ctx context.Context, query string) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, domain.ErrEmptyQuery
	}
	results, err := s.retriever.Retrieve(ctx, query, s.topK)
	if err != nil {
		return Answer{}, err
	}
	prompt, err := s.Prompt(query, results)
	if err != nil {
		return Answer{}, err
	}
	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: completion: %w", domain.ErrUnavailable, err)
	}
	sources := DistinctSources(results)
	s.log.WithFields(logrus.Fields{
		"passages": len(results),
		"sources":  len(sources),
	}).Debug("service.answered")
	return Answer{Text: text, Sources: sources, Results: results}, nil
}

// Prompt renders the prompt for query over results.
func (s *RAGService) Prompt(query string, results []domain.SearchResult) (string, error) {
	var b strings.Builder
	data := struct{ Context, Question string }{Context: FormatContext(results), Question: query}
	if err := s.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// FormatContext numbers each passage and labels it with its source.
func FormatContext(results []domain.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[%d] source: %s\n%s", i+1, r.Source, strings.TrimSpace(r.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// DistinctSources returns the source labels of results without repeats, in
// the order they first appear.
func DistinctSources(results []domain.SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Source]; ok {
			continue
		}
		seen[r.Source] = struct{}{}
		out = append(out, r.Source)
	}
	return out
}
