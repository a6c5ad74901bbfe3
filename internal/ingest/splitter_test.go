package ingest

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%03d", i)
	}
	return strings.Join(parts, " ")
}

func split(t *testing.T, s *RecursiveSplitter, text string) []string {
	t.Helper()
	chunks, err := s.Split(text)
	require.NoError(t, err)
	return chunks
}

func TestRecursiveSplitter_Deterministic(t *testing.T) {
	s := NewRecursiveSplitter(100, 20)
	text := words(150) + "\n\n" + words(40) + "\nlast line"

	first := split(t, s, text)
	second := split(t, s, text)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestRecursiveSplitter_RespectsChunkSize(t *testing.T) {
	s := NewRecursiveSplitter(100, 20)
	text := words(300) + "\n\n" + strings.Repeat("x", 250)

	for _, c := range split(t, s, text) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 100, c)
		assert.Equal(t, strings.TrimSpace(c), c)
		assert.NotEmpty(t, c)
	}
}

func TestRecursiveSplitter_Overlap(t *testing.T) {
	s := NewRecursiveSplitter(100, 20)
	chunks := split(t, s, words(200))
	require.Greater(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		firstWord := strings.Fields(chunks[i])[0]
		assert.Contains(t, chunks[i-1], firstWord, "chunk %d should start inside chunk %d", i, i-1)
	}
	// 12 words fit in 100 runes and the last two (15 runes) are carried over.
	assert.Equal(t, words(12), chunks[0])
	assert.True(t, strings.HasPrefix(chunks[1], "word010 word011"))
}

func TestRecursiveSplitter_ShortTextIsOneChunk(t *testing.T) {
	s := NewRecursiveSplitter(1000, 200)
	assert.Equal(t, []string{"Photosynthesis converts light into chemical energy."},
		split(t, s, "  Photosynthesis converts light into chemical energy.\n"))
	assert.Empty(t, split(t, s, "   \n\n  "))
}

func TestNewRecursiveSplitter_Defaults(t *testing.T) {
	s := NewRecursiveSplitter(0, -1)
	assert.Equal(t, 1000, s.ChunkSize)
	assert.Equal(t, 200, s.ChunkOverlap)

	s = NewRecursiveSplitter(100, 150)
	assert.Equal(t, 20, s.ChunkOverlap)
}
