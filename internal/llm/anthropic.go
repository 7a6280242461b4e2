package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Anthropic Messages API via the official SDK.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a new Anthropic client.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Chat sends a system prompt plus conversation history.
func (a *Anthropic) Chat(ctx context.Context, system string, history []Message, message string) (*Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(message)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 2048,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	return a.send(ctx, params)
}

// Complete sends a bare prompt as a single user message.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   2048,
		Temperature: anthropic.Float(0.3),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	return a.send(ctx, params)
}

func (a *Anthropic) send(ctx context.Context, params anthropic.MessageNewParams) (*Response, error) {
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}

	text := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return &Response{
		Content:    text,
		Provider:   "anthropic",
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}
