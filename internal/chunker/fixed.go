package chunker

import (
	"fmt"
	"iter"

	"ragqa/internal/domain"
)

// FixedSize splits text into rune-counted chunks where each chunk repeats
// the last overlap runes of the previous one.
type FixedSize struct {
	size    int
	overlap int
}

// NewFixedSize validates the parameters and returns a chunker.
func NewFixedSize(size, overlap int) (*FixedSize, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", domain.ErrConfiguration, overlap, size)
	}
	return &FixedSize{size: size, overlap: overlap}, nil
}

// Size returns the target chunk length in runes.
func (c *FixedSize) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *FixedSize) Overlap() int { return c.overlap }

// Split returns a lazy sequence of chunks covering the whole document.
// The sequence can be ranged over any number of times.
func (c *FixedSize) Split(document domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		runes := []rune(document.Content)
		n := len(runes)
		if n == 0 {
			return
		}
		start, idx := 0, 0
		for {
			end := min(start+c.size, n)
			overlap := 0
			if idx > 0 {
				overlap = c.overlap
			}
			chunk := domain.Chunk{
				DocumentID: document.ID,
				Index:      idx,
				Start:      start,
				End:        end,
				Overlap:    overlap,
				Text:       string(runes[start:end]),
			}
			if !yield(chunk) || end == n {
				return
			}
			start = end - c.overlap
			idx++
		}
	}
}

// Chunk collects Split into a slice.
func (c *FixedSize) Chunk(document domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for ch := range c.Split(document) {
		chunks = append(chunks, ch)
	}
	return chunks
}
