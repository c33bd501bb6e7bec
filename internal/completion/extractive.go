package completion

import (
	"context"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Prompt section markers understood by Extractive. Prompts built by the
// answering service use them; anything else is summarised as a whole.
const (
	ContextMarker  = "Context:"
	QuestionMarker = "Question:"
)

// NoAnswer is returned by Extractive when the prompt holds no usable text.
const NoAnswer = "I could not find an answer in the provided context."

var (
	sentencePattern = regexp.MustCompile(`(?m)[^.!?\n]+(?:[.!?]+|$)`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	// context block headers such as "[2] source: guide.md"
	blockHeader = regexp.MustCompile(`(?m)^\[\d+\][^\n]*$`)
)

// Extractive is an offline completer. It answers with the context sentences
// that best combine corpus-wide word frequency with overlap against the
// question, in their original order.
type Extractive struct {
	maxSentences int
	stopwords    map[string]struct{}
}

// NewExtractive creates an extractive completer returning at most
// maxSentences sentences (default 3).
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Extractive{maxSentences: maxSentences, stopwords: defaultStopwords()}
}

// Complete picks sentences from the prompt's context section.
func (e *Extractive) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	contextText, question := splitPrompt(prompt)
	ranked := e.Rank(contextText, question)
	if len(ranked) == 0 {
		return NoAnswer, nil
	}
	n := min(e.maxSentences, len(ranked))
	top := slices.Clone(ranked[:n])
	sort.Slice(top, func(i, j int) bool { return top[i].Position < top[j].Position })
	out := make([]string, len(top))
	for i, s := range top {
		out[i] = s.Text
	}
	return strings.Join(out, " "), nil
}

// Sentence is a scored sentence of the context.
type Sentence struct {
	Text     string
	Position int
	Score    float64
}

// Rank splits text into distinct sentences and orders them by descending
// score. Repeated sentences, as produced by overlapping chunks, count once.
func (e *Extractive) Rank(text, question string) []Sentence {
	text = blockHeader.ReplaceAllString(text, "")
	var sentences []string
	seen := map[string]struct{}{}
	for _, raw := range sentencePattern.FindAllString(text, -1) {
		s := strings.TrimSpace(raw)
		if len(e.tokens(s)) == 0 {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sentences = append(sentences, s)
	}
	if len(sentences) == 0 {
		return nil
	}

	freq := map[string]float64{}
	for _, s := range sentences {
		for _, tok := range e.tokens(s) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	for k, v := range freq {
		freq[k] = v / maxF
	}
	query := map[string]struct{}{}
	for _, tok := range e.tokens(question) {
		query[tok] = struct{}{}
	}

	out := make([]Sentence, len(sentences))
	for i, s := range sentences {
		toks := e.tokens(s)
		var score float64
		hits := map[string]struct{}{}
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := query[tok]; ok {
				hits[tok] = struct{}{}
			}
		}
		score /= math.Sqrt(float64(len(toks)))
		if len(query) > 0 {
			// question overlap dominates frequency
			score += 2 * float64(len(hits)) / float64(len(query))
		}
		out[i] = Sentence{Text: s, Position: i, Score: score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// BestSentence returns the sentence of text that best answers question, or
// "" when text has none.
func (e *Extractive) BestSentence(text, question string) string {
	ranked := e.Rank(text, question)
	if len(ranked) == 0 {
		return ""
	}
	return ranked[0].Text
}

func (e *Extractive) tokens(text string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func splitPrompt(prompt string) (contextText, question string) {
	ci := strings.Index(prompt, ContextMarker)
	qi := strings.LastIndex(prompt, QuestionMarker)
	if ci < 0 || qi < ci {
		return prompt, ""
	}
	contextText = prompt[ci+len(ContextMarker) : qi]
	question = prompt[qi+len(QuestionMarker):]
	if nl := strings.Index(question, "\n"); nl >= 0 {
		question = question[:nl]
	}
	return contextText, strings.TrimSpace(question)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
