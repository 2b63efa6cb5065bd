package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserver/types"
)

func TestNewChunkerRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		size    int
		overlap int
	}{
		{"unknown method", "semantic", 1000, 200},
		{"zero size", MethodSimple, 0, 0},
		{"overlap equals size", MethodSimple, 500, 500},
		{"overlap above size", MethodSimple, 500, 600},
		{"negative overlap", MethodSimple, 500, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChunker(tc.method, tc.size, tc.overlap, 0)
			require.Error(t, err)
			var chunkErr *types.ChunkingError
			assert.ErrorAs(t, err, &chunkErr)
		})
	}
}

func TestSimpleChunkCount(t *testing.T) {
	// With step = size - overlap the window count is
	// ceil((len - overlap) / step) for text longer than one window.
	cases := []struct {
		length  int
		size    int
		overlap int
		want    int
	}{
		{5000, 1000, 200, 6},
		{1000, 1000, 200, 1},
		{999, 1000, 200, 1},
		{1001, 1000, 200, 2},
		{500000, 1000, 200, 625},
	}
	for _, tc := range cases {
		chunker, err := NewChunker(MethodSimple, tc.size, tc.overlap, 0)
		require.NoError(t, err)

		text := strings.Repeat("a", tc.length)
		chunks := chunker.Split(text)
		assert.Len(t, chunks, tc.want, "length=%d size=%d overlap=%d", tc.length, tc.size, tc.overlap)
	}
}

func TestSimpleChunkBoundaries(t *testing.T) {
	chunker, err := NewChunker(MethodSimple, 10, 4, 0)
	require.NoError(t, err)

	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := chunker.Split(text)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "abcdefghij", chunks[0])
	// Consecutive windows share exactly overlap characters.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		assert.True(t, strings.HasPrefix(chunks[i], prev[len(prev)-4:]))
	}
	// Every input character is covered.
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "z"))
}

func TestSimpleShortInputSingleChunk(t *testing.T) {
	chunker, err := NewChunker(MethodSimple, 1000, 200, 0)
	require.NoError(t, err)

	chunks := chunker.Split("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestSplitEmptyInput(t *testing.T) {
	for _, method := range []string{MethodSimple, MethodRecursive, MethodSentence} {
		chunker, err := NewChunker(method, 1000, 200, 100)
		require.NoError(t, err)
		assert.Empty(t, chunker.Split(""))
		assert.Empty(t, chunker.Split("   \n\t  "))
	}
}

func TestRecursiveRespectsChunkSize(t *testing.T) {
	chunker, err := NewChunker(MethodRecursive, 100, 0, 20)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Some sentence with a handful of words in it. ")
		if i%5 == 4 {
			b.WriteString("\n\n")
		}
	}
	chunks := chunker.Split(b.String())

	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 100)
		assert.NotEmpty(t, strings.TrimSpace(ch))
	}
}

func TestRecursiveHardCutWithoutSeparators(t *testing.T) {
	chunker, err := NewChunker(MethodRecursive, 50, 0, 0)
	require.NoError(t, err)

	text := strings.Repeat("x", 175)
	chunks := chunker.Split(text)

	require.Len(t, chunks, 4)
	for i := 0; i < 3; i++ {
		assert.Len(t, chunks[i], 50)
	}
	assert.Len(t, chunks[3], 25)
}

func TestRecursivePrefersParagraphBoundaries(t *testing.T) {
	chunker, err := NewChunker(MethodRecursive, 60, 0, 0)
	require.NoError(t, err)

	text := "First paragraph here.\n\nSecond paragraph follows.\n\nThird one closes it."
	chunks := chunker.Split(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Contains(t, chunks[0], "First paragraph")
}

func TestSentencePacking(t *testing.T) {
	chunker, err := NewChunker(MethodSentence, 60, 0, 0)
	require.NoError(t, err)

	text := "One short sentence. Another short sentence. A third sentence here. And a fourth to finish."
	chunks := chunker.Split(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, ch := range chunks {
		// Chunks end on sentence boundaries, never mid-word.
		assert.NotEmpty(t, ch)
		last := ch[len(ch)-1]
		assert.Contains(t, ".!?", string(last))
	}
}

func TestSentenceOversizedSentenceKeptWhole(t *testing.T) {
	chunker, err := NewChunker(MethodSentence, 30, 0, 0)
	require.NoError(t, err)

	long := "This single sentence is far longer than the configured chunk size limit."
	chunks := chunker.Split(long)

	require.Len(t, chunks, 1)
	assert.Equal(t, long, chunks[0])
}

func TestMergeSmallChunks(t *testing.T) {
	chunker, err := NewChunker(MethodRecursive, 200, 0, 100)
	require.NoError(t, err)

	// Paragraphs small enough that unmerged output would be full of
	// fragments below the minimum.
	text := strings.TrimSpace(strings.Repeat("Tiny para.\n\n", 20))
	chunks := chunker.Split(text)

	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len(ch), 100, "chunk %d too small: %q", i, ch)
		}
	}
}
