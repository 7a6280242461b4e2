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

const geminiAPI = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiEmbedder uses the Gemini embedContent API. The default model
// text-embedding-004 produces 768-dimensional vectors.
type GeminiEmbedder struct {
	apiKey string
	model  string
	dims   int
	client *http.Client
}

// NewGeminiEmbedder creates an embedder using the Gemini API.
func NewGeminiEmbedder(apiKey, model string, dims int) *GeminiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	if dims <= 0 {
		dims = 768
	}
	return &GeminiEmbedder{
		apiKey: apiKey,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GeminiEmbedder) Model() string   { return "gemini:" + g.model }
func (g *GeminiEmbedder) Dimensions() int { return g.dims }

// Embed sends text to the embedContent endpoint and returns the vector.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"model": "models/" + g.model,
		"content": map[string]any{
			"parts": []map[string]string{{"text": text}},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:embedContent?key=%s", geminiAPI, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini embed api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embedding struct {
			Values []float64 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini returned an empty embedding")
	}

	g.dims = len(result.Embedding.Values)
	return result.Embedding.Values, nil
}
