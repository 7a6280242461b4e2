package llm

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

// Gemini calls the Gemini generateContent API directly.
type Gemini struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGemini creates a new Gemini API client.
func NewGemini(apiKey, model string) *Gemini {
	return &Gemini{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Chat sends a system prompt, prior turns, and the new message.
// Gemini names the assistant role "model".
func (g *Gemini) Chat(ctx context.Context, system string, history []Message, message string) (*Response, error) {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: message}}})

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     0.8,
			"topP":            0.95,
			"topK":            40,
			"maxOutputTokens": 2048,
		},
	}
	if system != "" {
		body["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	return g.generate(ctx, body)
}

// Complete sends a bare prompt. Used for analysis/extraction calls where a
// lower temperature keeps the structured output stable.
func (g *Gemini) Complete(ctx context.Context, prompt string) (*Response, error) {
	body := map[string]any{
		"contents": []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     0.3,
			"maxOutputTokens": 2048,
		},
	}
	return g.generate(ctx, body)
}

func (g *Gemini) generate(ctx context.Context, reqBody map[string]any) (*Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiAPI, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini api status %d: %s", resp.StatusCode, respBody)
	}

	var result geminiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := ""
	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		text = result.Candidates[0].Content.Parts[0].Text
	}

	return &Response{
		Content:    text,
		Provider:   "gemini",
		TokensUsed: result.UsageMetadata.PromptTokenCount + result.UsageMetadata.CandidatesTokenCount,
	}, nil
}
