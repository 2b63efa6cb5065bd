package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragserver/types"
)

// Generator produces a completion for a system/user prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// OllamaGenerator calls an Ollama-compatible generate endpoint. Both single
// and streaming response bodies are handled; a streamed body is reassembled
// from its chunk lines.
type OllamaGenerator struct {
	apiURL string
	model  string
	client *http.Client
}

func NewOllamaGenerator(apiURL, model string, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  g.model,
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return "", &types.GenerationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", &types.GenerationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &types.GenerationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &types.GenerationError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &types.GenerationError{Err: fmt.Errorf("llm returned status %d: %s", resp.StatusCode, truncate(body, 256))}
	}

	var single generateResponse
	if err := json.Unmarshal(body, &single); err == nil && single.Response != "" {
		return single.Response, nil
	}

	// Streaming body: one JSON object per line, each carrying a fragment.
	var output bytes.Buffer
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk generateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	if output.Len() == 0 {
		return "", &types.GenerationError{Err: fmt.Errorf("empty response from llm")}
	}
	return output.String(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
