package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserver/config"
	"ragserver/model"
	"ragserver/store"
	"ragserver/types"
)

const testDim = 8

// hashProvider maps each text to a deterministic unit-free vector so tests
// can reason about search results without a live model.
type hashProvider struct{}

func (hashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDim)
		for j, r := range text {
			vec[j%testDim] += float32(r%13) / 13
		}
		out[i] = vec
	}
	return out, nil
}

func newTestService(t *testing.T, start bool) (*Service, *store.MemoryStore) {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Store.Provider = "memory"
	cfg.Embedding.Dimension = testDim
	cfg.Chunker.ChunkSize = 200
	cfg.Chunker.ChunkOverlap = 40
	cfg.Chunker.MinChunkSize = 0
	cfg.Ingest.Workers = 1
	cfg.Ingest.PollIntervalMillis = 10
	cfg.Ingest.PollMaxAttempts = 500
	cfg.Data.RawDir = filepath.Join(base, "raw")
	cfg.Data.ProcessedDir = filepath.Join(base, "processed")
	cfg.Data.StatusDir = filepath.Join(base, "status")

	vs := store.NewMemoryStore(testDim)
	embedder := model.NewEmbeddingService(hashProvider{}, testDim, 16, 3)
	registry := NewRegistry(cfg.Data.StatusDir)
	require.NoError(t, registry.Restore())

	svc := NewService(cfg, registry, embedder, vs)
	if start {
		svc.Start(context.Background())
		t.Cleanup(svc.Stop)
	}
	return svc, vs
}

func saveText(content string) func(string) error {
	return func(dst string) error {
		return os.WriteFile(dst, []byte(content), 0o644)
	}
}

func intPtr(n int) *int { return &n }

func TestIngestFileCompletes(t *testing.T) {
	svc, vs := newTestService(t, true)
	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	doc, err := svc.IngestFile("notes.txt", int64(len(content)), nil, types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, doc.Status)
	assert.Equal(t, "txt", doc.FileType)

	final, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, final.Status, "error: %s", final.Error)
	assert.Equal(t, float64(100), final.Progress)
	assert.NotEmpty(t, final.ChunkIDs)
	assert.Equal(t, len(final.ChunkIDs), final.Processing.ChunkCount)
	assert.Equal(t, types.ChunkID(doc.ID, 0), final.ChunkIDs[0])
	assert.Greater(t, final.Processing.ProcessingTime, float64(0))

	stats, err := vs.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(final.ChunkIDs), stats.ChunkCount)
	assert.Equal(t, 1, stats.DocumentCount)
}

func TestIngestFileUnsupportedTypeFails(t *testing.T) {
	svc, vs := newTestService(t, true)

	doc, err := svc.IngestFile("binary.xyz", 4, nil, types.IngestOverrides{}, saveText("\x00\x01"))
	require.NoError(t, err, "acceptance never depends on parseability")

	final, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "parse")

	stats, err := vs.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount, "failed documents contribute no vectors")
}

func TestIngestFileInvalidOverrideFails(t *testing.T) {
	svc, _ := newTestService(t, true)
	content := strings.Repeat("Plain text content. ", 30)

	doc, err := svc.IngestFile("notes.txt", int64(len(content)), nil,
		types.IngestOverrides{Chunker: "simple", ChunkSize: 200, ChunkOverlap: intPtr(300)},
		saveText(content))
	require.NoError(t, err)

	final, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "chunk")
}

func TestChunkerForOverlapOnlyOverride(t *testing.T) {
	svc, _ := newTestService(t, false)

	// An overlap override applies on its own, without a size or method
	// override alongside it.
	c, err := svc.chunkerFor(types.IngestOverrides{ChunkOverlap: intPtr(50)})
	require.NoError(t, err)
	assert.Equal(t, 50, c.overlap)
	assert.Equal(t, svc.cfg.Chunker.ChunkSize, c.chunkSize)

	// An explicit zero is a value, not an unset field.
	c, err = svc.chunkerFor(types.IngestOverrides{ChunkOverlap: intPtr(0)})
	require.NoError(t, err)
	assert.Zero(t, c.overlap)

	// A requested size below the configured overlap drops the overlap when
	// none was requested.
	svc.cfg.Chunker.ChunkOverlap = 150
	c, err = svc.chunkerFor(types.IngestOverrides{ChunkSize: 120})
	require.NoError(t, err)
	assert.Equal(t, 120, c.chunkSize)
	assert.Zero(t, c.overlap)
}

func TestIngestDuplicateDetection(t *testing.T) {
	svc, _ := newTestService(t, true)
	content := strings.Repeat("Same document body as before. ", 25)

	first, err := svc.IngestFile("report.txt", int64(len(content)), nil, types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)
	firstFinal, err := svc.WaitForDocument(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, firstFinal.Status)
	assert.Empty(t, firstFinal.PossibleDuplicates)

	// Same name, same size: the second upload is annotated but still runs
	// to completion.
	second, err := svc.IngestFile("REPORT.txt", int64(len(content)), nil, types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)
	secondFinal, err := svc.WaitForDocument(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, secondFinal.Status)
	assert.Contains(t, secondFinal.PossibleDuplicates, first.ID.String())
}

func TestFindDuplicatesTitleMatchesExistingName(t *testing.T) {
	svc, _ := newTestService(t, false)

	existing := types.Document{
		ID:       uuid.New(),
		Name:     "Quarterly Report",
		Status:   types.StatusCompleted,
		ByteSize: 1000,
	}
	require.NoError(t, svc.registry.Create(existing))

	// A rescan under a generated filename carries the original name as its
	// extracted title.
	incoming := types.Document{ID: uuid.New(), Name: "scan-001.pdf", ByteSize: 1040}
	incoming.Metadata.Title = "quarterly report"
	assert.Contains(t, svc.findDuplicates(incoming), existing.ID.String())

	// The reverse direction: an existing title matches the new name.
	other := types.Document{ID: uuid.New(), Name: "Quarterly Report.pdf", ByteSize: 990}
	dups := svc.findDuplicates(other)
	assert.Empty(t, dups, "extension-bearing name does not equal the bare title")

	titled := types.Document{
		ID:       uuid.New(),
		Name:     "archive-77.pdf",
		Status:   types.StatusCompleted,
		ByteSize: 2000,
	}
	titled.Metadata.Title = "Budget Outlook"
	require.NoError(t, svc.registry.Create(titled))
	named := types.Document{ID: uuid.New(), Name: "budget outlook", ByteSize: 2010}
	assert.Contains(t, svc.findDuplicates(named), titled.ID.String())

	// Size outside the tolerance never matches, whatever the labels say.
	incoming.ByteSize = 5000
	assert.Empty(t, svc.findDuplicates(incoming))
}

func TestIngestReingestionIsIdempotent(t *testing.T) {
	svc, vs := newTestService(t, true)
	content := strings.Repeat("Stable content for reindexing. ", 25)

	doc, err := svc.IngestFile("stable.txt", int64(len(content)), nil, types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)
	final, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, final.Status)

	// Re-upserting the same chunks must not grow the index.
	before, err := vs.Stats(context.Background())
	require.NoError(t, err)

	chunks := buildChunks(final, content, []string{content[:200]}, "simple")
	vecs, err := model.NewEmbeddingService(hashProvider{}, testDim, 16, 3).EmbedTexts(context.Background(), []string{content[:200]})
	require.NoError(t, err)
	chunks[0].Embedding = vecs[0]
	require.NoError(t, vs.Upsert(context.Background(), chunks))

	after, err := vs.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.ChunkCount, after.ChunkCount)
}

func TestDeleteRemovesEverything(t *testing.T) {
	svc, vs := newTestService(t, true)
	content := strings.Repeat("Document to be deleted later. ", 25)

	doc, err := svc.IngestFile("gone.txt", int64(len(content)), nil, types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)
	final, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, final.Status)

	removed, err := svc.Delete(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, len(final.ChunkIDs), removed)

	_, ok := svc.Document(doc.ID)
	assert.False(t, ok)

	stats, err := vs.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ChunkCount)

	_, err = svc.Delete(context.Background(), doc.ID)
	require.Error(t, err)
}

func TestWaitForDocumentTimeout(t *testing.T) {
	// Workers never started: the document stays pending and the bounded
	// poll gives up with a timeout, not a failure.
	svc, _ := newTestService(t, false)
	svc.cfg.Ingest.PollMaxAttempts = 3

	content := "some pending content"
	doc, err := svc.IngestFile("stuck.txt", int64(len(content)), nil, types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)

	got, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStatusTimeout))
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestIngestMetadataApplied(t *testing.T) {
	svc, vs := newTestService(t, true)
	content := strings.Repeat("Tagged document content. ", 25)

	doc, err := svc.IngestFile("tagged.txt", int64(len(content)),
		map[string]string{"title": "Quarterly Report", "team": "research"},
		types.IngestOverrides{}, saveText(content))
	require.NoError(t, err)

	final, err := svc.WaitForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, "Quarterly Report", final.Metadata.Title)
	assert.Equal(t, "research", final.Metadata.Extra["team"])

	// Chunk metadata inherits the document fields and is filterable.
	results, err := vs.Search(context.Background(), store.ZeroVector(testDim), 10,
		map[string]string{"title": "Quarterly Report"})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
