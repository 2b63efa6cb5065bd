package engine

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"ragserver/store"
	"ragserver/types"
)

// Ranker turns a query embedding into a ranked, threshold-filtered result
// list. With reranking enabled it over-fetches from the store and blends the
// vector score with lexical overlap before truncating.
type Ranker struct {
	store            store.VectorStorer
	threshold        float64
	useReranking     bool
	rerankMultiplier int
	logger           *slog.Logger
}

func NewRanker(vs store.VectorStorer, threshold float64, useReranking bool, rerankMultiplier int) *Ranker {
	if rerankMultiplier < 1 {
		rerankMultiplier = 1
	}
	return &Ranker{
		store:            vs,
		threshold:        threshold,
		useReranking:     useReranking,
		rerankMultiplier: rerankMultiplier,
		logger:           slog.Default().With("component", "ranker"),
	}
}

// Retrieve returns at most topK results scoring at or above the similarity
// threshold. An empty result is a valid outcome, not an error.
func (r *Ranker) Retrieve(ctx context.Context, query string, embedding []float32, topK int, filter map[string]string) ([]types.SearchResult, error) {
	fetchK := topK
	if r.useReranking {
		fetchK = topK * r.rerankMultiplier
	}
	results, err := r.store.Search(ctx, embedding, fetchK, filter)
	if err != nil {
		return nil, err
	}

	fetched := len(results)
	if r.useReranking && len(results) > 0 {
		rerank(query, results)
	}
	if len(results) > topK {
		results = results[:topK]
	}

	filtered := results[:0]
	for _, res := range results {
		if res.Score >= r.threshold {
			filtered = append(filtered, res)
		}
	}
	r.logger.Debug("retrieved chunks",
		slog.Int("fetched", fetched),
		slog.Int("kept", len(filtered)),
	)
	return filtered, nil
}

// rerank blends the vector score with the Ochiai coefficient of the query
// and chunk word sets, then re-sorts. The blend weights favour the vector
// score; lexical overlap only breaks near-ties.
func rerank(query string, results []types.SearchResult) {
	queryWords := wordSet(query)
	for i := range results {
		lexical := ochiai(queryWords, wordSet(results[i].Text))
		results[i].Score = 0.85*results[i].Score + 0.15*lexical
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// ochiai is the overlap coefficient |A∩B| / sqrt(|A|*|B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / math.Sqrt(float64(len(a))*float64(len(b)))
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}
