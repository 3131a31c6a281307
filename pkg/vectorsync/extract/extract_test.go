package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Supports(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	assert.True(t, r.Supports("text/plain"))
	assert.True(t, r.Supports("text/markdown"))
	assert.True(t, r.Supports("application/json"))
	assert.True(t, r.Supports("text/plain; charset=utf-8"), "parameters are ignored")
	assert.True(t, r.Supports("Text/Plain"), "media types are case insensitive")
	assert.False(t, r.Supports("application/pdf"))
	assert.False(t, r.Supports(""))
}

func TestRegistry_Extract(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	text, err := r.Extract("text/markdown; charset=utf-8", []byte("# hello"))
	require.NoError(t, err)
	assert.Equal(t, "# hello", text)

	_, err = r.Extract("application/pdf", []byte("%PDF"))
	assert.Error(t, err)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("text/plain", func([]byte) (string, error) { return "replaced", nil })

	text, err := r.Extract("text/plain", []byte("original"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", text)
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	t.Run("re-indents valid JSON", func(t *testing.T) {
		text, err := r.Extract("application/json", []byte(`{"title":"minutes","tags":["a","b"]}`))
		require.NoError(t, err)
		assert.Contains(t, text, `"title": "minutes"`)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := r.Extract("application/json", []byte(`{"broken":`))
		assert.Error(t, err)
	})
}

func TestChunk(t *testing.T) {
	t.Parallel()

	t.Run("empty input yields no chunks", func(t *testing.T) {
		assert.Empty(t, Chunk(""))
		assert.Empty(t, Chunk("\n\n  \n\n"))
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := Chunk("first paragraph\n\nsecond paragraph")
		require.Len(t, chunks, 1)
		assert.Equal(t, "first paragraph\n\nsecond paragraph", chunks[0])
	})

	t.Run("splits on paragraph boundaries", func(t *testing.T) {
		para := strings.Repeat("word ", 200) // ~1000 runes
		chunks := Chunk(para + "\n\n" + para + "\n\n" + para)
		require.Len(t, chunks, 3, "no two paragraphs fit one chunk together")
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), maxChunkSize)
		}
	})

	t.Run("hard-splits oversized paragraphs with overlap", func(t *testing.T) {
		long := strings.Repeat("a", maxChunkSize+500)
		chunks := Chunk(long)
		require.Len(t, chunks, 2)
		assert.Len(t, []rune(chunks[0]), maxChunkSize)
		assert.Len(t, []rune(chunks[1]), 500+chunkOverlap,
			"the tail repeats the overlap from the previous chunk")
	})

	t.Run("multibyte runes are not split", func(t *testing.T) {
		long := strings.Repeat("ü", maxChunkSize+10)
		chunks := Chunk(long)
		require.Len(t, chunks, 2)
		for _, c := range chunks {
			assert.True(t, strings.HasPrefix(c, "ü"))
		}
	})
}
