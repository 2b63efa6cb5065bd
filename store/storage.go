package store

import (
	"context"
	"math"

	"github.com/google/uuid"

	"ragserver/types"
)

// VectorStorer persists chunk vectors and answers similarity searches. The
// handle is injected explicitly into the orchestrator and query engine; Init
// and Close bracket its lifecycle.
type VectorStorer interface {
	Init(ctx context.Context) error

	// Upsert is idempotent by chunk ID: re-upserting an ID replaces its
	// vector and metadata. Every vector must match the store dimension.
	Upsert(ctx context.Context, chunks []types.Chunk) error

	// Search returns up to topK results ranked by descending cosine
	// similarity. Ties break by insertion order, earliest first. An empty
	// store yields an empty result, not an error.
	Search(ctx context.Context, query []float32, topK int, filter map[string]string) ([]types.SearchResult, error)

	// DeleteByDocument removes every chunk owned by the document atomically
	// and reports how many were removed.
	DeleteByDocument(ctx context.Context, docID uuid.UUID) (int, error)

	Stats(ctx context.Context) (types.StoreStats, error)

	Close() error
}

// ZeroVector builds a neutral query vector of the store's dimension. Always
// use this instead of an untyped literal so every vector crossing a module
// boundary has the same concrete type.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// Cosine computes cosine similarity between two equal-length vectors.
// Zero-magnitude input scores zero against everything.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
