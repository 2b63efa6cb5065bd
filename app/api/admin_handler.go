package api

import (
	"github.com/gofiber/fiber/v2"

	"ragserver/engine"
	"ragserver/ingest"
	"ragserver/store"
)

type AdminHandler struct {
	store  store.VectorStorer
	ingest *ingest.Service
	query  *engine.QueryService
}

func NewAdminHandler(vs store.VectorStorer, s *ingest.Service, q *engine.QueryService) *AdminHandler {
	return &AdminHandler{store: vs, ingest: s, query: q}
}

// HandleStats reports system counters. Document and vector counts come from
// the vector store, which is the authority for what is actually searchable;
// the registry contributes the per-status breakdown.
func (h *AdminHandler) HandleStats(c *fiber.Ctx) error {
	stats, err := h.store.Stats(c.Context())
	if err != nil {
		return err
	}

	byStatus := make(map[string]int)
	for _, doc := range h.ingest.Documents() {
		byStatus[string(doc.Status)]++
	}
	avgSeconds, last24h := h.query.Latency()

	return c.JSON(fiber.Map{
		"document_count":      stats.DocumentCount,
		"chunk_count":         stats.ChunkCount,
		"vector_count":        stats.VectorCount,
		"index_size_bytes":    stats.IndexSizeBytes,
		"avg_query_time":      avgSeconds,
		"queries_last_24h":    last24h,
		"documents_by_status": byStatus,
	})
}
