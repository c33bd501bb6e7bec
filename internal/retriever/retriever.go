package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ragqa/internal/domain"
	"ragqa/internal/logging"
	"ragqa/internal/vectorindex"
)

// DefaultConcurrency bounds parallel embedding calls during a build.
const DefaultConcurrency = 4

// Options wires the collaborators of a Retriever. Store is optional; without
// it the index lives only in memory and is built on first use.
type Options struct {
	Chunker     domain.Chunker
	Embedder    domain.Embedder
	Source      domain.DocumentSource
	Store       vectorindex.Store
	Concurrency int
	Log         logrus.FieldLogger
}

// BuildStats summarises a completed build.
type BuildStats struct {
	Documents int
	Chunks    int
	Duration  time.Duration
}

// Retriever answers "top-k passages for this query" over an index built
// from a document source.
type Retriever struct {
	chunker     domain.Chunker
	embedder    domain.Embedder
	source      domain.DocumentSource
	store       vectorindex.Store
	concurrency int
	log         logrus.FieldLogger

	index *vectorindex.Index
	// buildMu serialises builds; searches never take it
	buildMu sync.Mutex
}

// New validates opts and returns a Retriever over an empty index.
func New(opts Options) (*Retriever, error) {
	if opts.Chunker == nil || opts.Embedder == nil || opts.Source == nil {
		return nil, fmt.Errorf("%w: retriever needs a chunker, an embedder and a document source", domain.ErrConfiguration)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	return &Retriever{
		chunker:     opts.Chunker,
		embedder:    opts.Embedder,
		source:      opts.Source,
		store:       opts.Store,
		concurrency: opts.Concurrency,
		log:         opts.Log,
		index:       vectorindex.New(opts.Embedder.Dimension()),
	}, nil
}

// Index exposes the underlying index.
func (r *Retriever) Index() *vectorindex.Index { return r.index }

// Len returns the number of indexed passages.
func (r *Retriever) Len() int { return r.index.Len() }

// Open loads the persisted index. A missing or corrupt store, or one saved
// at a dimension the embedder no longer produces, falls back to a full
// build; an empty document source then yields domain.ErrEmptyCorpus.
func (r *Retriever) Open(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	err := r.index.Restore(ctx, r.store, r.embedder.Dimension())
	switch {
	case err == nil:
		r.log.WithFields(logrus.Fields{"entries": r.index.Len(), "dimension": r.index.Dimension()}).Info("index.loaded")
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCorruptIndex):
		r.log.WithError(err).Warn("index.load_failed.rebuilding")
	default:
		return fmt.Errorf("load index: %w", err)
	}
	stats, err := r.Build(ctx)
	if err != nil {
		return err
	}
	if stats.Chunks == 0 {
		return domain.ErrEmptyCorpus
	}
	return nil
}

// Build reloads every document, re-embeds every chunk and swaps the result
// into the index in one step. Searches keep using the previous corpus until
// the swap. The new corpus is saved when a store is configured; a failed
// save is logged and does not fail the build.
func (r *Retriever) Build(ctx context.Context) (BuildStats, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	return r.build(ctx)
}

func (r *Retriever) build(ctx context.Context) (BuildStats, error) {
	started := time.Now()
	r.log.Info("index.build.started")

	docs, err := r.source.Load(ctx)
	if err != nil {
		return BuildStats{}, fmt.Errorf("load documents: %w", err)
	}
	var entries []domain.IndexEntry
	for _, doc := range docs {
		for ch := range r.chunker.Split(doc) {
			if strings.TrimSpace(ch.Text) == "" {
				continue
			}
			entries = append(entries, domain.IndexEntry{Text: ch.Text, Source: doc.ID, ChunkIndex: ch.Index})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range entries {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gctx, entries[i].Text)
			if err != nil {
				return fmt.Errorf("%w: embed %s chunk %d: %w", domain.ErrUnavailable, entries[i].Source, entries[i].ChunkIndex, err)
			}
			entries[i].Vector = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BuildStats{}, err
	}
	if err := r.index.Replace(r.embedder.Dimension(), entries); err != nil {
		return BuildStats{}, err
	}

	stats := BuildStats{Documents: len(docs), Chunks: len(entries), Duration: time.Since(started)}
	r.log.WithFields(logrus.Fields{
		"documents": stats.Documents,
		"chunks":    stats.Chunks,
		"duration":  stats.Duration.String(),
	}).Info("index.build.finished")

	if r.store != nil && len(entries) > 0 {
		if err := r.index.Save(ctx, r.store); err != nil {
			r.log.WithError(err).Warn("index.save_failed")
		}
	}
	return stats, nil
}

// Retrieve returns up to k passages most similar to query. An empty index
// triggers exactly one build before searching again; if that still finds
// nothing the result is domain.ErrEmptyCorpus.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidArgument, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrUnavailable, err)
	}
	res, err := r.index.Search(ctx, vec, k)
	if err != nil || len(res) > 0 {
		return res, err
	}

	if err := r.buildIfEmpty(ctx); err != nil {
		return nil, err
	}
	res, err = r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, domain.ErrEmptyCorpus
	}
	return res, nil
}

// buildIfEmpty builds unless another caller filled the index while we waited.
func (r *Retriever) buildIfEmpty(ctx context.Context) error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	if r.index.Len() > 0 {
		return nil
	}
	r.log.Info("retriever.rebuild.empty_index")
	_, err := r.build(ctx)
	return err
}

// Add embeds text and appends it to the index under the given source label.
// The addition is not persisted until the next build or explicit save.
func (r *Retriever) Add(ctx context.Context, text, source string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text must not be empty", domain.ErrInvalidArgument)
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: embed text: %w", domain.ErrUnavailable, err)
	}
	if err := r.index.Add(vec, text, source); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"source": source, "entries": r.index.Len()}).Debug("index.entry.added")
	return nil
}

// Save persists the current index to the configured store.
func (r *Retriever) Save(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("%w: no index store configured", domain.ErrConfiguration)
	}
	return r.index.Save(ctx, r.store)
}
