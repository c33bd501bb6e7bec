package domain

import (
	"context"
	"iter"
)

// Document represents a single source file loaded into the system.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Chunk is a bounded, overlapping span of a document used as the unit of retrieval.
// Start and End are rune offsets into the document content.
type Chunk struct {
	DocumentID string
	Index      int
	Start      int
	End        int
	Overlap    int
	Text       string
}

// IndexEntry pairs a vector with the chunk text and source label it was derived from.
type IndexEntry struct {
	Vector     []float32
	Text       string
	Source     string
	ChunkIndex int
}

// SearchResult represents a matching entry with a similarity score in (0,1].
type SearchResult struct {
	Text     string
	Source   string
	Score    float64
	Distance float64
}

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer turns a prompt into answer text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DocumentSource loads the documents an index is built from.
type DocumentSource interface {
	Load(ctx context.Context) ([]Document, error)
}

// Chunker splits a document into a lazy, restartable sequence of chunks.
type Chunker interface {
	Split(document Document) iter.Seq[Chunk]
}
