// Package extract mines insights and memory candidates from conversation
// turns. It runs in the background and is best-effort throughout: an
// unparseable model response yields an empty result, and a failure on one
// candidate never aborts the rest of the batch.
package extract

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/doppelhq/doppel/internal/llm"
	"github.com/doppelhq/doppel/internal/memory"
)

// Acceptance gates, preserved from the source behavior.
const (
	minInsightConfidence = 0.6
	minMemoryImportance  = 0.5
)

// contextWindow is how many recent turns are passed as analysis context.
const contextWindow = 5

// InsightStore persists accepted insights.
type InsightStore interface {
	AppendInsight(ctx context.Context, in *memory.Insight) error
}

// Extractor analyzes turns and feeds accepted candidates back into the
// memory manager and insight store.
type Extractor struct {
	llm      llm.Client
	memories *memory.Manager
	insights InsightStore
}

// New creates an Extractor.
func New(client llm.Client, memories *memory.Manager, insights InsightStore) *Extractor {
	return &Extractor{llm: client, memories: memories, insights: insights}
}

// Result reports what one analysis pass persisted.
type Result struct {
	InsightsStored int
	MemoriesStored int
}

// Analyze runs the extraction pipeline on one turn. The error return is
// reserved for the generation call itself failing; a response that cannot
// be decoded is treated as "nothing to extract".
func (e *Extractor) Analyze(ctx context.Context, ownerID, utterance string, history []llm.Message) (*Result, error) {
	if e.llm == nil {
		return &Result{}, nil
	}

	recent := history
	if len(recent) > contextWindow {
		recent = recent[len(recent)-contextWindow:]
	}

	prompt := llm.AnalysisPrompt(utterance, recent)
	resp, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analysis llm: %w", err)
	}

	analysis, err := decodeAnalysis(resp.Content)
	if err != nil {
		log.Printf("extraction: discarding unparseable analysis: %v", err)
		return &Result{}, nil
	}

	result := &Result{}
	now := time.Now().UnixMilli()

	for _, c := range analysis.Insights {
		if c.Confidence <= minInsightConfidence {
			continue
		}
		in := &memory.Insight{
			ID:         ulid.Make().String(),
			OwnerID:    ownerID,
			Category:   c.Category,
			Key:        c.Key,
			Value:      c.Value,
			Confidence: c.Confidence,
			Source:     "chat",
			CreatedAt:  now,
		}
		if err := e.insights.AppendInsight(ctx, in); err != nil {
			log.Printf("extraction: store insight %s: %v", c.Key, err)
			continue
		}
		result.InsightsStored++
	}

	for _, c := range analysis.Memories {
		if c.Importance <= minMemoryImportance {
			continue
		}
		_, err := e.memories.Create(ctx, memory.CreateMemory{
			OwnerID:    ownerID,
			Content:    c.Content,
			Summary:    c.Summary,
			Category:   c.Category,
			Source:     "chat",
			Importance: c.Importance,
		})
		if err != nil {
			log.Printf("extraction: store memory candidate: %v", err)
			continue
		}
		result.MemoriesStored++
	}

	if result.InsightsStored > 0 || result.MemoriesStored > 0 {
		log.Printf("extraction: stored %d insights, %d memories for %s",
			result.InsightsStored, result.MemoriesStored, ownerID)
	}
	return result, nil
}
