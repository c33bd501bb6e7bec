package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

func reconstruct(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		runes := []rune(ch.Text)
		b.WriteString(string(runes[ch.Overlap:]))
	}
	return b.String()
}

func TestNewFixedSizeRejectsBadParameters(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFixedSize(tc.size, tc.overlap)
			require.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestSplitTwelveHundredCharacters(t *testing.T) {
	c, err := NewFixedSize(500, 50)
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij", 120)
	chunks := c.Chunk(domain.Document{ID: "doc.txt", Content: text})

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{0, 450, 900}, []int{chunks[0].Start, chunks[1].Start, chunks[2].Start})
	assert.Equal(t, 500, len(chunks[0].Text))
	assert.Equal(t, 500, len(chunks[1].Text))
	assert.Equal(t, 300, len(chunks[2].Text))
	assert.Equal(t, 1200, chunks[2].End)
	assert.Equal(t, text[450:500], chunks[1].Text[:50])
	assert.Equal(t, text[900:950], chunks[2].Text[:50])
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "doc.txt", ch.DocumentID)
	}
}

func TestSplitReconstructsText(t *testing.T) {
	texts := []string{
		"a",
		"short text",
		strings.Repeat("x", 37),
		strings.Repeat("héllo wörld ", 53),
		strings.Repeat("日本語のテキスト", 19),
	}
	params := [][2]int{{1, 0}, {5, 2}, {7, 6}, {16, 3}, {100, 99}}
	for _, text := range texts {
		for _, p := range params {
			c, err := NewFixedSize(p[0], p[1])
			require.NoError(t, err)
			chunks := c.Chunk(domain.Document{Content: text})
			require.NotEmpty(t, chunks)
			assert.Equal(t, text, reconstruct(chunks), "size=%d overlap=%d", p[0], p[1])

			covered := make([]bool, utf8.RuneCountInString(text))
			for _, ch := range chunks {
				assert.LessOrEqual(t, ch.End-ch.Start, p[0])
				for i := ch.Start; i < ch.End; i++ {
					covered[i] = true
				}
			}
			for i, ok := range covered {
				assert.True(t, ok, "rune %d not covered", i)
			}
		}
	}
}

func TestSplitIsDeterministicAndRestartable(t *testing.T) {
	c, err := NewFixedSize(8, 3)
	require.NoError(t, err)
	doc := domain.Document{ID: "d", Content: "The quick brown fox jumps over the lazy dog."}

	seq := c.Split(doc)
	var first, second []domain.Chunk
	for ch := range seq {
		first = append(first, ch)
	}
	for ch := range seq {
		second = append(second, ch)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, first, c.Chunk(doc))
}

func TestSplitStopsEarly(t *testing.T) {
	c, err := NewFixedSize(2, 0)
	require.NoError(t, err)
	count := 0
	for range c.Split(domain.Document{Content: "abcdefgh"}) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestSplitEmptyText(t *testing.T) {
	c, err := NewFixedSize(10, 2)
	require.NoError(t, err)
	assert.Empty(t, c.Chunk(domain.Document{Content: ""}))
}

func TestSplitTextShorterThanChunk(t *testing.T) {
	c, err := NewFixedSize(500, 50)
	require.NoError(t, err)
	chunks := c.Chunk(domain.Document{Content: "tiny"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Overlap)
}
