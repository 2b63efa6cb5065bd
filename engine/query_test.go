package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserver/model"
	"ragserver/store"
	"ragserver/types"
)

// axisProvider embeds the known phrases onto fixed axes so retrieval order
// is fully predictable.
type axisProvider struct{}

func (axisProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 2)
		switch text {
		case "tell me about go":
			vec[0] = 1
		default:
			vec[1] = 1
		}
		out[i] = vec
	}
	return out, nil
}

type fakeSynth struct {
	calls   int
	results []types.SearchResult
}

func (f *fakeSynth) Synthesize(ctx context.Context, query string, results []types.SearchResult) (string, []types.Source, error) {
	f.calls++
	f.results = results
	if len(results) == 0 {
		return "no grounding", []types.Source{}, nil
	}
	sources := []types.Source{{DocID: results[0].DocID.String(), Score: results[0].Score}}
	return "answer about " + query, sources, nil
}

func newQueryService(t *testing.T, vs store.VectorStorer, synth Synthesizer) *QueryService {
	t.Helper()
	embedder := model.NewEmbeddingService(axisProvider{}, 2, 16, 3)
	ranker := NewRanker(vs, 0.3, false, 1)
	return NewQueryService(embedder, ranker, synth, 5)
}

func TestQueryRoundTrip(t *testing.T) {
	vs := store.NewMemoryStore(2)
	docID := uuid.New()
	require.NoError(t, vs.Upsert(context.Background(), []types.Chunk{
		{ID: types.ChunkID(docID, 0), DocID: docID, Seq: 0, Text: "go is a language", Embedding: []float32{1, 0}},
		{ID: types.ChunkID(docID, 1), DocID: docID, Seq: 1, Text: "unrelated", Embedding: []float32{0, 1}},
	}))
	synth := &fakeSynth{}
	qs := newQueryService(t, vs, synth)

	result, err := qs.Query(context.Background(), types.QueryParams{Query: "tell me about go"})
	require.NoError(t, err)

	assert.Equal(t, "tell me about go", result.Query)
	assert.Equal(t, "answer about tell me about go", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, docID.String(), result.Sources[0].DocID)
	assert.Greater(t, result.ProcessingTime, float64(0))
	assert.False(t, result.Timestamp.IsZero())

	require.Len(t, synth.results, 1, "only the on-axis chunk passes the threshold")
	assert.Equal(t, "go is a language", synth.results[0].Text)
}

func TestQueryEmptyIndex(t *testing.T) {
	synth := &fakeSynth{}
	qs := newQueryService(t, store.NewMemoryStore(2), synth)

	result, err := qs.Query(context.Background(), types.QueryParams{Query: "tell me about go"})
	require.NoError(t, err)
	assert.Equal(t, "no grounding", result.Answer)
	assert.Empty(t, result.Sources)
	assert.Equal(t, 1, synth.calls)
}

func TestQueryRecordsLatency(t *testing.T) {
	synth := &fakeSynth{}
	qs := newQueryService(t, store.NewMemoryStore(2), synth)

	_, err := qs.Query(context.Background(), types.QueryParams{Query: "tell me about go"})
	require.NoError(t, err)
	_, err = qs.Query(context.Background(), types.QueryParams{Query: "tell me about go"})
	require.NoError(t, err)

	avg, last24h := qs.Latency()
	assert.Greater(t, avg, float64(0))
	assert.Equal(t, 2, last24h)
}
