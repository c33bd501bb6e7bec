package vectorindex

import (
	"context"
	"fmt"

	"ragqa/internal/domain"
)

// Snapshot is the persisted form of an index: its dimension and the
// entries in insertion order.
type Snapshot struct {
	Dimension int
	Entries   []domain.IndexEntry
}

// Validate checks that every vector has the snapshot dimension.
func (s Snapshot) Validate() error {
	if len(s.Entries) > 0 && s.Dimension <= 0 {
		return fmt.Errorf("%w: %d entries with dimension %d", domain.ErrCorruptIndex, len(s.Entries), s.Dimension)
	}
	for i, e := range s.Entries {
		if len(e.Vector) != s.Dimension {
			return fmt.Errorf("%w: entry %d has %d dimensions, header says %d", domain.ErrCorruptIndex, i, len(e.Vector), s.Dimension)
		}
	}
	return nil
}

// Store persists snapshots as a single atomic unit. Load returns an error
// wrapping domain.ErrNotFound when nothing was saved and
// domain.ErrCorruptIndex when the stored data does not validate.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Save writes the current corpus to st.
func (x *Index) Save(ctx context.Context, st Store) error {
	return st.Save(ctx, x.Snapshot())
}

// Load reads a snapshot from st and builds an index from it.
func Load(ctx context.Context, st Store) (*Index, error) {
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	x := New(snap.Dimension)
	if err := x.Replace(snap.Dimension, snap.Entries); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptIndex, err)
	}
	return x, nil
}

// Restore replaces the corpus of x with the snapshot held in st. A positive
// dimension is the one the caller embeds with; a snapshot saved at another
// dimension is reported as domain.ErrCorruptIndex and x is left unchanged.
func (x *Index) Restore(ctx context.Context, st Store, dimension int) error {
	loaded, err := Load(ctx, st)
	if err != nil {
		return err
	}
	snap := loaded.Snapshot()
	if dimension > 0 && snap.Dimension != 0 && snap.Dimension != dimension {
		return fmt.Errorf("%w: stored index has %d dimensions, embedder produces %d", domain.ErrCorruptIndex, snap.Dimension, dimension)
	}
	return x.Replace(snap.Dimension, snap.Entries)
}
