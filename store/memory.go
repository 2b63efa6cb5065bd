package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ragserver/types"
)

// MemoryStore is a brute-force cosine store guarded by a single mutex. It
// backs tests and single-node deployments that do not want Postgres.
type MemoryStore struct {
	mu  sync.RWMutex
	dim int

	entries []memEntry
	byID    map[string]int // chunk ID -> index into entries
}

type memEntry struct {
	chunk   types.Chunk
	order   int64 // insertion sequence, survives replacement for tie-breaks
	deleted bool
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dim:  dimension,
		byID: make(map[string]int),
	}
}

func (s *MemoryStore) Init(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate the whole batch before touching state so a dimension error
	// leaves nothing half-written.
	for i := range chunks {
		if len(chunks[i].Embedding) != s.dim {
			return &types.DimensionError{Want: s.dim, Got: len(chunks[i].Embedding)}
		}
	}
	for i := range chunks {
		if idx, ok := s.byID[chunks[i].ID]; ok {
			order := s.entries[idx].order
			s.entries[idx] = memEntry{chunk: chunks[i], order: order}
			continue
		}
		s.entries = append(s.entries, memEntry{chunk: chunks[i], order: int64(len(s.entries))})
		s.byID[chunks[i].ID] = len(s.entries) - 1
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, topK int, filter map[string]string) ([]types.SearchResult, error) {
	if len(query) != s.dim {
		return nil, &types.DimensionError{Want: s.dim, Got: len(query)}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		res   types.SearchResult
		order int64
	}
	var matches []scored
	for i := range s.entries {
		e := &s.entries[i]
		if e.deleted {
			continue
		}
		if filter != nil && !e.chunk.Metadata.Match(filter) {
			continue
		}
		matches = append(matches, scored{
			res: types.SearchResult{
				ChunkID:  e.chunk.ID,
				DocID:    e.chunk.DocID,
				Score:    Cosine(query, e.chunk.Embedding),
				Text:     e.chunk.Text,
				Metadata: e.chunk.Metadata,
			},
			order: e.order,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].res.Score != matches[j].res.Score {
			return matches[i].res.Score > matches[j].res.Score
		}
		return matches[i].order < matches[j].order
	})
	if topK > len(matches) {
		topK = len(matches)
	}
	out := make([]types.SearchResult, 0, topK)
	for i := 0; i < topK; i++ {
		out = append(out, matches[i].res)
	}
	return out, nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for i := range s.entries {
		e := &s.entries[i]
		if !e.deleted && e.chunk.DocID == docID {
			e.deleted = true
			delete(s.byID, e.chunk.ID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (types.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make(map[uuid.UUID]struct{})
	var stats types.StoreStats
	for i := range s.entries {
		e := &s.entries[i]
		if e.deleted {
			continue
		}
		docs[e.chunk.DocID] = struct{}{}
		stats.ChunkCount++
		stats.IndexSizeBytes += int64(len(e.chunk.Text)) + int64(4*len(e.chunk.Embedding))
	}
	stats.DocumentCount = len(docs)
	stats.VectorCount = stats.ChunkCount
	return stats, nil
}
