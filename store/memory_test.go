package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserver/types"
)

func chunkWith(docID uuid.UUID, seq int, text string, vec []float32) types.Chunk {
	return types.Chunk{
		ID:        types.ChunkID(docID, seq),
		DocID:     docID,
		Seq:       seq,
		Text:      text,
		Embedding: vec,
		Metadata:  types.ChunkMeta{DocumentName: "doc-" + docID.String()[:8]},
	}
}

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	docID := uuid.New()

	chunks := []types.Chunk{
		chunkWith(docID, 0, "first", []float32{1, 0, 0}),
		chunkWith(docID, 1, "second", []float32{0, 1, 0}),
	}
	require.NoError(t, s.Upsert(ctx, chunks))

	// Same IDs again: replaced, not duplicated.
	chunks[0].Text = "first updated"
	require.NoError(t, s.Upsert(ctx, chunks))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 2, stats.VectorCount)
	assert.Equal(t, 1, stats.DocumentCount)

	results, err := s.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "first updated", results[0].Text)
}

func TestMemoryStoreUpsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)
	docID := uuid.New()

	err := s.Upsert(ctx, []types.Chunk{
		chunkWith(docID, 0, "ok", []float32{1, 0, 0}),
		chunkWith(docID, 1, "bad", []float32{1, 0}),
	})
	require.Error(t, err)
	var dimErr *types.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)

	// The failed batch must leave nothing behind.
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChunkCount)
}

func TestMemoryStoreSearchRanking(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	docID := uuid.New()

	require.NoError(t, s.Upsert(ctx, []types.Chunk{
		chunkWith(docID, 0, "orthogonal", []float32{0, 1}),
		chunkWith(docID, 1, "exact", []float32{1, 0}),
		chunkWith(docID, 2, "diagonal", []float32{1, 1}),
	}))

	results, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "diagonal", results[1].Text)
}

func TestMemoryStoreSearchTieBreakInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	first, second := uuid.New(), uuid.New()

	require.NoError(t, s.Upsert(ctx, []types.Chunk{chunkWith(first, 0, "inserted first", []float32{1, 0})}))
	require.NoError(t, s.Upsert(ctx, []types.Chunk{chunkWith(second, 0, "inserted second", []float32{1, 0})}))

	results, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "inserted first", results[0].Text)
	assert.Equal(t, "inserted second", results[1].Text)
}

func TestMemoryStoreSearchQueryDimensionMismatch(t *testing.T) {
	s := NewMemoryStore(3)
	_, err := s.Search(context.Background(), []float32{1, 0}, 5, nil)
	var dimErr *types.DimensionError
	require.ErrorAs(t, err, &dimErr)
}

func TestMemoryStoreSearchEmptyStore(t *testing.T) {
	s := NewMemoryStore(2)
	results, err := s.Search(context.Background(), ZeroVector(2), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStoreZeroVectorQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	docID := uuid.New()
	require.NoError(t, s.Upsert(ctx, []types.Chunk{chunkWith(docID, 0, "anything", []float32{1, 1})}))

	// A neutral vector matches everything with score zero.
	results, err := s.Search(ctx, ZeroVector(2), 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Score)
}

func TestMemoryStoreMetadataFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	docID := uuid.New()

	english := chunkWith(docID, 0, "english text", []float32{1, 0})
	english.Metadata.Language = "en"
	german := chunkWith(docID, 1, "german text", []float32{1, 0})
	german.Metadata.Language = "de"
	require.NoError(t, s.Upsert(ctx, []types.Chunk{english, german}))

	results, err := s.Search(ctx, []float32{1, 0}, 10, map[string]string{"language": "en"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "english text", results[0].Text)

	results, err = s.Search(ctx, []float32{1, 0}, 10, map[string]string{"language": "fr"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStoreDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	keep, drop := uuid.New(), uuid.New()

	require.NoError(t, s.Upsert(ctx, []types.Chunk{
		chunkWith(keep, 0, "keep me", []float32{1, 0}),
		chunkWith(drop, 0, "drop me", []float32{0, 1}),
		chunkWith(drop, 1, "drop me too", []float32{1, 1}),
	}))

	removed, err := s.DeleteByDocument(ctx, drop)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Deleting again is a no-op.
	removed, err = s.DeleteByDocument(ctx, drop)
	require.NoError(t, err)
	assert.Zero(t, removed)

	results, err := s.Search(ctx, ZeroVector(2), 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep me", results[0].Text)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.ChunkCount)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine(ZeroVector(2), []float32{1, 1}))
}
