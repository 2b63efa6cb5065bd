package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserver/types"
)

type fakeGenerator struct {
	calls  int
	system string
	prompt string
	answer string
	err    error
}

func (g *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.calls++
	g.system = system
	g.prompt = prompt
	return g.answer, g.err
}

func resultFor(docID uuid.UUID, seq int, text string, score float64) types.SearchResult {
	return types.SearchResult{
		ChunkID:  types.ChunkID(docID, seq),
		DocID:    docID,
		Score:    score,
		Text:     text,
		Metadata: types.ChunkMeta{DocumentName: "doc-" + docID.String()[:8]},
	}
}

func TestSynthesizeNoGroundingSkipsLLM(t *testing.T) {
	gen := &fakeGenerator{answer: "should never be used"}
	s := NewSynthesizer(gen, "system", 1000)

	answer, sources, err := s.Synthesize(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, NoGroundingAnswer, answer)
	assert.NotNil(t, sources)
	assert.Empty(t, sources)
	assert.Zero(t, gen.calls, "no grounding means no generation call")
}

func TestSynthesizePromptTagsSources(t *testing.T) {
	gen := &fakeGenerator{answer: "grounded answer [Source 1]"}
	s := NewSynthesizer(gen, "system prompt", 1000)
	docID := uuid.New()

	answer, sources, err := s.Synthesize(context.Background(), "what is go?", []types.SearchResult{
		resultFor(docID, 0, "Go is a compiled language.", 0.9),
		resultFor(docID, 1, "Go has goroutines.", 0.8),
	})
	require.NoError(t, err)
	assert.Equal(t, "grounded answer [Source 1]", answer)
	assert.Equal(t, "system prompt", gen.system)

	assert.Contains(t, gen.prompt, "[Source 1]")
	assert.Contains(t, gen.prompt, "[Source 2]")
	assert.Contains(t, gen.prompt, "Go is a compiled language.")
	assert.Contains(t, gen.prompt, "Question: what is go?")
	require.Len(t, sources, 1, "both chunks belong to one document")
}

func TestSynthesizeSourcesDedupedInRankOrder(t *testing.T) {
	gen := &fakeGenerator{answer: "answer"}
	s := NewSynthesizer(gen, "system", 10000)
	docA, docB := uuid.New(), uuid.New()

	_, sources, err := s.Synthesize(context.Background(), "q", []types.SearchResult{
		resultFor(docA, 0, "best chunk from A", 0.95),
		resultFor(docB, 0, "best chunk from B", 0.90),
		resultFor(docA, 1, "second chunk from A", 0.85),
	})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, docA.String(), sources[0].DocID)
	assert.Equal(t, docB.String(), sources[1].DocID)
	// Each document keeps its best ranked chunk.
	assert.Equal(t, "best chunk from A", sources[0].Snippet)
	assert.InDelta(t, 0.95, sources[0].Score, 1e-9)
}

func TestSynthesizeGenerationErrorPropagates(t *testing.T) {
	genErr := &types.GenerationError{Err: errors.New("model offline")}
	gen := &fakeGenerator{err: genErr}
	s := NewSynthesizer(gen, "system", 1000)

	_, _, err := s.Synthesize(context.Background(), "q", []types.SearchResult{
		resultFor(uuid.New(), 0, "some chunk", 0.9),
	})
	require.Error(t, err)
	var got *types.GenerationError
	assert.ErrorAs(t, err, &got)
}

func TestSynthesizeTokenBudgetTrimsContext(t *testing.T) {
	gen := &fakeGenerator{answer: "answer"}
	// A budget small enough that only the first chunk fits.
	s := NewSynthesizer(gen, "system", 30)
	docA, docB := uuid.New(), uuid.New()

	long := strings.Repeat("filler words here ", 20)
	_, sources, err := s.Synthesize(context.Background(), "q", []types.SearchResult{
		resultFor(docA, 0, long, 0.9),
		resultFor(docB, 0, "never included", 0.8),
	})
	require.NoError(t, err)
	require.Len(t, sources, 1, "second chunk exceeds the remaining budget")
	assert.Equal(t, docA.String(), sources[0].DocID)
	assert.NotContains(t, gen.prompt, "never included")
}

func TestSnippetTruncation(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, snippet(short))

	long := strings.Repeat("word ", 100)
	out := snippet(long)
	assert.LessOrEqual(t, len(out), snippetLength+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}
