package vectorindex

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

func TestAddThenSearchSameVectorScoresOne(t *testing.T) {
	x := New(0)
	v := []float32{0.3, -1.2, 4}
	require.NoError(t, x.Add(v, "hello", "a.txt"))

	res, err := x.Search(context.Background(), v, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "hello", res[0].Text)
	assert.Equal(t, "a.txt", res[0].Source)
	assert.Equal(t, 1.0, res[0].Score)
	assert.Zero(t, res[0].Distance)
}

func TestAddDimensionMismatchLeavesIndexUnchanged(t *testing.T) {
	x := New(0)
	require.NoError(t, x.Add([]float32{1, 2}, "a", "s"))
	assert.Equal(t, 2, x.Dimension())

	err := x.Add([]float32{1, 2, 3}, "b", "s")
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 1, x.Len())

	err = x.AddBatch([]domain.IndexEntry{
		{Vector: []float32{1, 1}, Text: "ok"},
		{Vector: []float32{1}, Text: "bad"},
	})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 1, x.Len())
}

func TestExplicitDimensionIsEnforced(t *testing.T) {
	x := New(3)
	require.ErrorIs(t, x.Add([]float32{1, 2}, "a", "s"), domain.ErrDimensionMismatch)
	require.NoError(t, x.Add([]float32{1, 2, 3}, "a", "s"))
}

func TestSearchScoresAndOrder(t *testing.T) {
	x := New(2)
	require.NoError(t, x.Add([]float32{3, 4}, "far", "s"))
	require.NoError(t, x.Add([]float32{1, 0}, "near", "s"))
	require.NoError(t, x.Add([]float32{0, 2}, "middle", "s"))

	res, err := x.Search(context.Background(), []float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"near", "middle", "far"}, []string{res[0].Text, res[1].Text, res[2].Text})
	assert.InDelta(t, 0.5, res[0].Score, 1e-12)
	assert.InDelta(t, 1.0/5, res[1].Score, 1e-12)
	assert.InDelta(t, 1.0/26, res[2].Score, 1e-12)
	assert.Equal(t, 25.0, res[2].Distance)
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	x := New(1)
	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, x.Add([]float32{1}, text, "s"))
	}
	res, err := x.Search(context.Background(), []float32{0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, []string{res[0].Text, res[1].Text, res[2].Text})
}

func TestSearchFewerEntriesThanK(t *testing.T) {
	x := New(0)
	require.NoError(t, x.Add([]float32{1, 1}, "a", "s"))
	require.NoError(t, x.Add([]float32{2, 2}, "b", "s"))
	res, err := x.Search(context.Background(), []float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestSearchEmptyIndexReturnsNoResults(t *testing.T) {
	res, err := New(0).Search(context.Background(), []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearchRejectsNonPositiveK(t *testing.T) {
	x := New(0)
	require.NoError(t, x.Add([]float32{1}, "a", "s"))
	for _, k := range []int{0, -1} {
		_, err := x.Search(context.Background(), []float32{1}, k)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	x := New(0)
	require.NoError(t, x.Add([]float32{1, 2}, "a", "s"))
	_, err := x.Search(context.Background(), []float32{1}, 1)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestSearchHonoursCancellation(t *testing.T) {
	x := New(0)
	require.NoError(t, x.Add([]float32{1}, "a", "s"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := x.Search(ctx, []float32{1}, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSearchResultsAreSortedByScore(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := New(8)
	for i := 0; i < 200; i++ {
		require.NoError(t, x.Add(randomVector(rng, 8), "t", "s"))
	}
	res, err := x.Search(context.Background(), randomVector(rng, 8), 50)
	require.NoError(t, err)
	require.Len(t, res, 50)
	for i := 0; i+1 < len(res); i++ {
		assert.GreaterOrEqual(t, res[i].Score, res[i+1].Score)
	}
}

func TestCapitalsScenario(t *testing.T) {
	x := New(0)
	paris := []float32{0.9, 0.1, 0.0}
	tokyo := []float32{0.1, 0.9, 0.0}
	require.NoError(t, x.Add(paris, "Paris is the capital of France.", "france.txt"))
	require.NoError(t, x.Add(tokyo, "Tokyo is the capital of Japan.", "japan.txt"))

	res, err := x.Search(context.Background(), []float32{0.8, 0.2, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Paris is the capital of France.", res[0].Text)
	assert.Equal(t, "france.txt", res[0].Source)
}

func TestReplaceSwapsCorpus(t *testing.T) {
	x := New(0)
	require.NoError(t, x.Add([]float32{1, 2}, "old", "s"))
	require.NoError(t, x.Replace(3, []domain.IndexEntry{{Vector: []float32{1, 2, 3}, Text: "new"}}))
	assert.Equal(t, 3, x.Dimension())
	assert.Equal(t, 1, x.Len())

	require.ErrorIs(t, x.Replace(3, []domain.IndexEntry{{Vector: []float32{1}}}), domain.ErrDimensionMismatch)
	assert.Equal(t, 1, x.Len())
}

func TestAddCopiesVector(t *testing.T) {
	x := New(0)
	v := []float32{1, 2}
	require.NoError(t, x.Add(v, "a", "s"))
	v[0] = 100
	res, err := x.Search(context.Background(), []float32{1, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res[0].Score)
}

func TestConcurrentAddAndSearch(t *testing.T) {
	x := New(4)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				assert.NoError(t, x.Add(randomVector(rng, 4), "t", "s"))
			}
		}(int64(w))
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + 100))
			for i := 0; i < 100; i++ {
				_, err := x.Search(context.Background(), randomVector(rng, 4), 3)
				assert.NoError(t, err)
			}
		}(int64(w))
	}
	wg.Wait()
	assert.Equal(t, 400, x.Len())
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}
