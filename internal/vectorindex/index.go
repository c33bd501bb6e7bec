package vectorindex

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"ragqa/internal/domain"
)

// cancellation is checked once per this many scanned entries
const scanCheckEvery = 1024

// Index is an in-memory exact nearest-neighbour index using squared L2
// distance. Writers are serialised; concurrent searches share a read lock.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.IndexEntry
}

// New creates an empty index. A zero dimension is fixed by the first vector added.
func New(dimension int) *Index {
	if dimension < 0 {
		dimension = 0
	}
	return &Index{dimension: dimension}
}

// Dimension returns the established vector dimension, or zero if none yet.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// Len returns the number of stored entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Add appends a single entry. The index is left unchanged on error.
func (x *Index) Add(vector []float32, text, source string) error {
	return x.AddBatch([]domain.IndexEntry{{Vector: vector, Text: text, Source: source}})
}

// AddBatch appends entries in order. Either every entry is added or none is.
func (x *Index) AddBatch(entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	dim, err := checkDimensions(x.dimension, entries)
	if err != nil {
		return err
	}
	x.dimension = dim
	for _, e := range entries {
		x.entries = append(x.entries, cloneEntry(e))
	}
	return nil
}

// Replace swaps the whole corpus for entries in one step. A non-zero
// dimension pins the index dimension; zero derives it from entries.
func (x *Index) Replace(dimension int, entries []domain.IndexEntry) error {
	dim, err := checkDimensions(dimension, entries)
	if err != nil {
		return err
	}
	fresh := make([]domain.IndexEntry, len(entries))
	for i, e := range entries {
		fresh[i] = cloneEntry(e)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dimension = dim
	x.entries = fresh
	return nil
}

// Search returns up to k entries ordered by ascending distance to query.
// Equal distances keep insertion order. An empty index yields no results.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidArgument, k)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 {
		return []domain.SearchResult{}, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(query), x.dimension)
	}

	type scored struct {
		pos  int
		dist float64
	}
	scores := make([]scored, len(x.entries))
	for i := range x.entries {
		if i%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scores[i] = scored{pos: i, dist: SquaredL2(query, x.entries[i].Vector)}
	}
	slices.SortStableFunc(scores, func(a, b scored) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})
	k = min(k, len(scores))
	results := make([]domain.SearchResult, 0, k)
	for _, s := range scores[:k] {
		e := x.entries[s.pos]
		results = append(results, domain.SearchResult{
			Text:     e.Text,
			Source:   e.Source,
			Score:    Similarity(s.dist),
			Distance: s.dist,
		})
	}
	return results, nil
}

// Snapshot copies the current corpus for persistence.
func (x *Index) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entries := make([]domain.IndexEntry, len(x.entries))
	for i, e := range x.entries {
		entries[i] = cloneEntry(e)
	}
	return Snapshot{Dimension: x.dimension, Entries: entries}
}

// Clear removes all entries but keeps the dimension.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = nil
}

// SquaredL2 returns the squared Euclidean distance between a and b, which must have equal length.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Similarity converts a distance into a score in (0,1]; distance zero gives 1.
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

func checkDimensions(dim int, entries []domain.IndexEntry) (int, error) {
	for i, e := range entries {
		if dim == 0 {
			if len(e.Vector) == 0 {
				return 0, fmt.Errorf("%w: entry %d has an empty vector", domain.ErrDimensionMismatch, i)
			}
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return 0, fmt.Errorf("%w: entry %d has %d dimensions, index has %d", domain.ErrDimensionMismatch, i, len(e.Vector), dim)
		}
	}
	return dim, nil
}

func cloneEntry(e domain.IndexEntry) domain.IndexEntry {
	e.Vector = slices.Clone(e.Vector)
	return e
}
