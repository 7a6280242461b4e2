package llm

import (
	"context"
	"fmt"

	"github.com/doppelhq/doppel/internal/config"
)

// Message is a single conversation turn passed as chat history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client is the interface for generation providers. Chat produces a
// persona-grounded reply from a system prompt plus history; Complete runs a
// bare prompt (used by the extraction pipeline).
type Client interface {
	Chat(ctx context.Context, system string, history []Message, message string) (*Response, error)
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of a generation call.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates a generation client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini provider requires GEMINI_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		return NewGemini(cfg.GeminiKey, model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
