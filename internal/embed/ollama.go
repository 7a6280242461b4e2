package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama's embed endpoint and returns the embedding vector.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"model": o.model,
		"input": text,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}

	o.dims = len(result.Embeddings[0])
	return result.Embeddings[0], nil
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	reqBody, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	resp, err := client.Post(url+"/api/embed", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
