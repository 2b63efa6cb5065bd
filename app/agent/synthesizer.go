package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"ragserver/types"
)

// NoGroundingAnswer is returned verbatim when retrieval produced nothing to
// cite. No LLM call is made in that case.
const NoGroundingAnswer = "I could not find relevant information in the indexed documents to answer this question."

const snippetLength = 200

// Synthesizer builds a source-tagged prompt from ranked chunks and asks the
// generator for a grounded answer. The context block is trimmed to a token
// budget so the prompt never overflows the model window.
type Synthesizer struct {
	generator        Generator
	systemPrompt     string
	maxContextTokens int
	logger           *slog.Logger
}

func NewSynthesizer(generator Generator, systemPrompt string, maxContextTokens int) *Synthesizer {
	return &Synthesizer{
		generator:        generator,
		systemPrompt:     systemPrompt,
		maxContextTokens: maxContextTokens,
		logger:           slog.Default().With("component", "synthesizer"),
	}
}

// Synthesize answers the query from the ranked chunks. With no chunks the
// fixed no-grounding answer is returned alongside an empty source list.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []types.SearchResult) (string, []types.Source, error) {
	if len(results) == 0 {
		return NoGroundingAnswer, []types.Source{}, nil
	}

	included := s.fitToBudget(results)
	prompt := buildPrompt(query, included)

	if tokens, err := countTokens(prompt); err == nil {
		s.logger.Debug("prompt built",
			slog.Int("chunks", len(included)),
			slog.Int("tokens", tokens),
		)
	}

	answer, err := s.generator.Generate(ctx, s.systemPrompt, prompt)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(answer), collectSources(included), nil
}

// fitToBudget keeps ranked chunks in order until the token budget is spent.
// The top chunk is always included even if it alone exceeds the budget.
func (s *Synthesizer) fitToBudget(results []types.SearchResult) []types.SearchResult {
	if s.maxContextTokens <= 0 {
		return results
	}
	var included []types.SearchResult
	used := 0
	for _, res := range results {
		tokens, err := countTokens(res.Text)
		if err != nil {
			tokens = len(res.Text) / 4
		}
		if len(included) > 0 && used+tokens > s.maxContextTokens {
			break
		}
		included = append(included, res)
		used += tokens
	}
	return included
}

func buildPrompt(query string, results []types.SearchResult) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the sources below. Cite the sources you used as [Source N].\n\n")
	for i, res := range results {
		name := res.Metadata.DocumentName
		if name == "" {
			name = res.DocID.String()
		}
		fmt.Fprintf(&b, "[Source %d] (%s)\n%s\n\n", i+1, name, res.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}

// collectSources deduplicates by document, keeping each document's best
// ranked chunk and preserving rank order.
func collectSources(results []types.SearchResult) []types.Source {
	seen := make(map[string]struct{}, len(results))
	sources := make([]types.Source, 0, len(results))
	for _, res := range results {
		key := res.DocID.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, types.Source{
			DocID:        key,
			DocumentName: res.Metadata.DocumentName,
			Score:        res.Score,
			Snippet:      snippet(res.Text),
			Metadata:     res.Metadata,
		})
	}
	return sources
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLength {
		return text
	}
	cut := text[:snippetLength]
	if idx := strings.LastIndexByte(cut, ' '); idx > snippetLength/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func countTokens(text string) (int, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if encErr != nil {
		return 0, encErr
	}
	return len(enc.Encode(text, nil, nil)), nil
}
