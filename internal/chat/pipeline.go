// Package chat implements the retrieval-augmented reply pipeline: short-term
// history plus long-term memories around a generation call, with the
// embedding-attach and extraction side effects dispatched in the background.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/doppelhq/doppel/internal/config"
	"github.com/doppelhq/doppel/internal/embed"
	"github.com/doppelhq/doppel/internal/extract"
	"github.com/doppelhq/doppel/internal/llm"
	"github.com/doppelhq/doppel/internal/memory"
	"github.com/doppelhq/doppel/internal/store"
	"github.com/doppelhq/doppel/internal/task"
)

// ErrConversationNotFound is returned when a turn references a conversation
// that does not exist or belongs to another owner.
var ErrConversationNotFound = errors.New("conversation not found")

// Retrieval parameters, preserved from the source behavior.
const (
	historyWindow       = 20
	memoryLimit         = 5
	memoryMinSimilarity = 0.4
	titleMaxLen         = 50
)

// Pipeline produces grounded replies. Only the generation call is fatal to a
// turn; every other step degrades with a log line so the conversation stays
// responsive.
type Pipeline struct {
	db        *store.DB
	memories  *memory.Manager
	client    llm.Client
	embedder  embed.Embedder
	extractor *extract.Extractor
	tasks     *task.Dispatcher
	persona   config.PersonaConfig
}

// New creates a Pipeline. embedder and extractor may be nil (degraded mode).
func New(db *store.DB, memories *memory.Manager, client llm.Client, embedder embed.Embedder,
	extractor *extract.Extractor, tasks *task.Dispatcher, persona config.PersonaConfig) *Pipeline {
	return &Pipeline{
		db:        db,
		memories:  memories,
		client:    client,
		embedder:  embedder,
		extractor: extractor,
		tasks:     tasks,
		persona:   persona,
	}
}

// TurnResult is what a completed turn returns to the caller. MemoriesUsed is
// an observability signal: how many long-term memories grounded the reply.
type TurnResult struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	MemoriesUsed   int    `json:"memoriesUsed"`
}

// HandleTurn runs the reply pipeline for one utterance. An empty
// conversationID starts a new conversation.
func (p *Pipeline) HandleTurn(ctx context.Context, ownerID, conversationID, utterance string) (*TurnResult, error) {
	if utterance == "" {
		return nil, fmt.Errorf("utterance is required")
	}

	conv, isNew, err := p.loadConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	history, err := p.db.RecentMessages(ctx, conv.ID, historyWindow)
	if err != nil {
		log.Printf("chat: load history for %s: %v", conv.ID, err)
		history = nil
	}
	llmHistory := toLLMHistory(history)

	// Long-term context. A failing search degrades to an empty memory set;
	// an unranked (recency-fallback) result still grounds the reply.
	var memoryLines []string
	memoriesUsed := 0
	results, err := p.memories.Search(ctx, ownerID, utterance, memory.SearchOpts{
		Limit:         memoryLimit,
		MinSimilarity: memoryMinSimilarity,
	})
	if err != nil {
		log.Printf("chat: memory search failed, continuing without: %v", err)
	} else {
		if !results.Ranked && len(results.Items) > 0 {
			log.Printf("chat: unranked memory context for %s, grounding on recent memories", conv.ID)
		}
		memoriesUsed = len(results.Items)
		for _, item := range results.Items {
			memoryLines = append(memoryLines, fmt.Sprintf("[%s] %s", item.Category, item.Content))
		}
	}

	system := llm.TwinSystemPrompt(p.persona, memoryLines)
	resp, err := p.client.Chat(ctx, system, llmHistory, utterance)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	// Persistence failures after this point degrade: the reply already
	// exists and must reach the caller.
	userMsg, err := p.db.AppendMessage(ctx, conv.ID, "user", utterance)
	if err != nil {
		log.Printf("chat: persist user turn: %v", err)
	}
	assistantMsg, err := p.db.AppendMessage(ctx, conv.ID, "assistant", resp.Content)
	if err != nil {
		log.Printf("chat: persist assistant turn: %v", err)
	}

	if isNew {
		if err := p.db.SetConversationTitle(ctx, conv.ID, titleFrom(utterance)); err != nil {
			log.Printf("chat: set title for %s: %v", conv.ID, err)
		}
	}

	p.dispatchSideEffects(ownerID, conv.ID, utterance, userMsg, llmHistory)

	result := &TurnResult{
		Reply:          resp.Content,
		ConversationID: conv.ID,
		MemoriesUsed:   memoriesUsed,
	}
	if assistantMsg != nil {
		result.MessageID = assistantMsg.ID
	}
	return result, nil
}

func (p *Pipeline) loadConversation(ctx context.Context, ownerID, conversationID string) (*store.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := p.db.GetConversation(ctx, ownerID, conversationID)
		if err != nil {
			return nil, false, fmt.Errorf("load conversation: %w", err)
		}
		if conv == nil {
			return nil, false, ErrConversationNotFound
		}
		return conv, false, nil
	}

	conv, err := p.db.CreateConversation(ctx, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

// dispatchSideEffects fires the two decoupled background tasks. Neither can
// affect the already-returned reply; they may interleave with later turns.
func (p *Pipeline) dispatchSideEffects(ownerID, conversationID, utterance string, userMsg *store.Message, history []llm.Message) {
	if p.embedder != nil && userMsg != nil {
		messageID := userMsg.ID
		p.tasks.Dispatch("embed-turn", func(ctx context.Context) error {
			vec, err := p.embedder.Embed(ctx, utterance)
			if err != nil {
				return fmt.Errorf("embed turn: %w", err)
			}
			return p.db.AttachMessageEmbedding(ctx, messageID, vec)
		})
	}

	if p.extractor != nil {
		p.tasks.Dispatch("extract-turn", func(ctx context.Context) error {
			_, err := p.extractor.Analyze(ctx, ownerID, utterance, history)
			return err
		})
	}
}

func toLLMHistory(messages []store.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// titleFrom derives a conversation title from the first utterance.
func titleFrom(utterance string) string {
	runes := []rune(utterance)
	if len(runes) <= titleMaxLen {
		return utterance
	}
	return string(runes[:titleMaxLen]) + "..."
}
