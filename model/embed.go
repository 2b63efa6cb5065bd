package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ragserver/types"
)

// EmbeddingProvider turns a batch of texts into vectors, order-preserving
// and same length as its input.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingService wraps a provider with batching, bounded retry and
// dimension validation. Every vector leaving it is a []float32 of the
// configured dimension.
type EmbeddingService struct {
	provider    EmbeddingProvider
	dimension   int
	batchSize   int
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

func NewEmbeddingService(provider EmbeddingProvider, dimension, batchSize, maxAttempts int) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &EmbeddingService{
		provider:    provider,
		dimension:   dimension,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		baseBackoff: 500 * time.Millisecond,
		logger:      slog.Default().With("component", "embedder"),
	}
}

func (s *EmbeddingService) Dimension() int { return s.dimension }

// EmbedTexts embeds texts in provider-sized batches. Transient provider
// failures are retried with exponential backoff; exhaustion fails the whole
// call with an EmbeddingError and the caller decides whether to fail the
// document or re-submit it.
func (s *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *EmbeddingService) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		vecs, err := s.provider.Embed(ctx, batch)
		if err == nil {
			if err := s.validate(batch, vecs); err != nil {
				return nil, err
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < s.maxAttempts {
			backoff := s.baseBackoff << (attempt - 1)
			s.logger.Warn("embedding attempt failed, retrying",
				"attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, &types.EmbeddingError{Attempts: s.maxAttempts, Err: lastErr}
}

// validate checks batch shape and vector width. A wrong dimension means the
// provider and store configuration have drifted apart; that is fatal for the
// document, never silently coerced.
func (s *EmbeddingService) validate(batch []string, vecs [][]float32) error {
	if len(vecs) != len(batch) {
		return &types.EmbeddingError{
			Attempts: 1,
			Err:      errSizeMismatch(len(batch), len(vecs)),
		}
	}
	for _, v := range vecs {
		if len(v) != s.dimension {
			return &types.DimensionError{Want: s.dimension, Got: len(v)}
		}
	}
	return nil
}

func errSizeMismatch(want, got int) error {
	return fmt.Errorf("provider returned %d vectors for %d texts", got, want)
}
