package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ragserver/model"
	"ragserver/types"
)

// Synthesizer produces a grounded answer with citations from ranked chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []types.SearchResult) (string, []types.Source, error)
}

// QueryService runs the full retrieval pipeline: embed the query, rank
// matching chunks, synthesize a cited answer.
type QueryService struct {
	embedder *model.EmbeddingService
	ranker   *Ranker
	synth    Synthesizer
	latency  *LatencyRecorder
	topK     int
	logger   *slog.Logger
}

func NewQueryService(embedder *model.EmbeddingService, ranker *Ranker, synth Synthesizer, defaultTopK int) *QueryService {
	return &QueryService{
		embedder: embedder,
		ranker:   ranker,
		synth:    synth,
		latency:  NewLatencyRecorder(),
		topK:     defaultTopK,
		logger:   slog.Default().With("component", "query"),
	}
}

func (s *QueryService) Query(ctx context.Context, params types.QueryParams) (types.QueryResult, error) {
	start := time.Now()

	topK := params.TopK
	if topK <= 0 {
		topK = s.topK
	}

	embedding, err := s.embedder.EmbedQuery(ctx, params.Query)
	if err != nil {
		return types.QueryResult{}, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.ranker.Retrieve(ctx, params.Query, embedding, topK, params.Filter)
	if err != nil {
		return types.QueryResult{}, fmt.Errorf("retrieve: %w", err)
	}
	answer, sources, err := s.synth.Synthesize(ctx, params.Query, results)
	if err != nil {
		return types.QueryResult{}, err
	}

	elapsed := time.Since(start)
	s.latency.Record(elapsed)
	s.logger.Info("query answered",
		slog.Int("sources", len(sources)),
		slog.Duration("took", elapsed),
	)
	return types.QueryResult{
		Query:          params.Query,
		Answer:         answer,
		Sources:        sources,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      time.Now().UTC(),
	}, nil
}

// Latency exposes the recorder snapshot for admin stats.
func (s *QueryService) Latency() (avgSeconds float64, last24h int) {
	return s.latency.Snapshot()
}
