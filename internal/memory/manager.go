package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/doppelhq/doppel/internal/embed"
)

// Default search parameters. Preserved as constants rather than config
// knobs; callers that need different values pass SearchOpts explicitly.
const (
	defaultSearchLimit  = 5
	defaultImportance   = 0.5
	recentFallbackLimit = 10
)

// Manager owns memory creation, semantic search, access tracking, and
// deletion. The embedder is optional: without one every record is created
// degraded and search falls back to recency order.
type Manager struct {
	store    Store
	embedder embed.Embedder
}

// NewManager creates a Manager. embedder may be nil.
func NewManager(store Store, embedder embed.Embedder) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// SetEmbedder configures the embedding provider.
func (m *Manager) SetEmbedder(e embed.Embedder) {
	m.embedder = e
}

// CreateMemory holds the inputs for Create.
type CreateMemory struct {
	OwnerID    string
	Content    string
	Summary    string
	Category   string
	Source     string
	SourceRef  string
	Importance float64 // zero means default (0.5)
}

// Create persists a new memory. Embedding is best-effort: on failure the
// record is stored without a vector and the error is logged, never returned.
func (m *Manager) Create(ctx context.Context, in CreateMemory) (*Memory, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("memory content is required")
	}
	if !ValidCategory(in.Category) {
		return nil, fmt.Errorf("invalid memory category %q", in.Category)
	}
	if in.Source != "" && !validSources[in.Source] {
		return nil, fmt.Errorf("invalid memory source %q", in.Source)
	}

	importance := in.Importance
	if importance == 0 {
		importance = defaultImportance
	}
	importance = clampImportance(importance)

	rec := &Memory{
		ID:         ulid.Make().String(),
		OwnerID:    in.OwnerID,
		Content:    in.Content,
		Summary:    in.Summary,
		Category:   in.Category,
		Source:     in.Source,
		SourceRef:  in.SourceRef,
		Importance: importance,
		CreatedAt:  time.Now().UnixMilli(),
	}

	var vec []float64
	if m.embedder != nil {
		v, err := m.embedder.Embed(ctx, in.Content)
		if err != nil {
			log.Printf("memory: embed failed for new memory, storing without vector: %v", err)
		} else {
			vec = v
		}
	}
	rec.Embedded = vec != nil

	if err := m.store.InsertMemory(ctx, rec, vec); err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return rec, nil
}

// SearchOpts controls Search behavior.
type SearchOpts struct {
	Limit         int     // max results (default 5)
	Category      string  // filter by category (empty = all)
	MinSimilarity float64 // minimum cosine similarity for ranked results
}

func (o SearchOpts) limit() int {
	if o.Limit <= 0 {
		return defaultSearchLimit
	}
	return o.Limit
}

// SearchResults carries ranked (or degraded recency-ordered) matches.
// Ranked is false when the query embedding was unavailable; items then have
// no similarity scores and are ordered newest-first.
type SearchResults struct {
	Items  []Scored `json:"items"`
	Ranked bool     `json:"ranked"`
}

// Search embeds the query and runs a ranked similarity search. If embedding
// is unavailable it degrades to a recency query. Hits get their access
// counters bumped as a side effect.
func (m *Manager) Search(ctx context.Context, ownerID, query string, opts SearchOpts) (*SearchResults, error) {
	var queryVec []float64
	if m.embedder != nil {
		v, err := m.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("memory: embed query failed, falling back to recency: %v", err)
		} else {
			queryVec = v
		}
	}

	if queryVec == nil {
		limit := opts.limit()
		if opts.Limit <= 0 {
			limit = recentFallbackLimit
		}
		recent, err := m.store.RecentMemories(ctx, ownerID, opts.Category, limit)
		if err != nil {
			return nil, fmt.Errorf("recency search: %w", err)
		}
		items := make([]Scored, 0, len(recent))
		for _, r := range recent {
			items = append(items, Scored{Memory: r})
		}
		return &SearchResults{Items: items, Ranked: false}, nil
	}

	scored, err := m.store.SimilarMemories(ctx, ownerID, queryVec, opts.Category, opts.MinSimilarity, opts.limit())
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	if len(scored) > 0 {
		ids := make([]string, len(scored))
		for i, s := range scored {
			ids[i] = s.ID
		}
		if err := m.store.IncrementAccess(ctx, ids); err != nil {
			log.Printf("memory: increment access: %v", err)
		}
	}

	return &SearchResults{Items: scored, Ranked: true}, nil
}

// Get returns a single owner-scoped memory.
func (m *Manager) Get(ctx context.Context, ownerID, id string) (*Memory, error) {
	return m.store.GetMemory(ctx, ownerID, id)
}

// Recent returns the newest memories for an owner.
func (m *Manager) Recent(ctx context.Context, ownerID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = recentFallbackLimit
	}
	return m.store.RecentMemories(ctx, ownerID, "", limit)
}

// Delete removes an owner-scoped memory. Deleting a non-existent or foreign
// id returns ErrNotFound; it never touches another owner's rows.
func (m *Manager) Delete(ctx context.Context, ownerID, id string) error {
	deleted, err := m.store.DeleteMemory(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// DeleteSource cascades a delete to every memory derived from sourceRef.
// Used by collaborators when an originating record (import, photo) is
// removed. Returns the number of memories deleted.
func (m *Manager) DeleteSource(ctx context.Context, ownerID, sourceRef string) (int, error) {
	return m.store.DeleteMemoriesBySource(ctx, ownerID, sourceRef)
}

// EmbedMissing backfills vectors for memories created while the embedding
// capability was unavailable. Returns the number embedded.
func (m *Manager) EmbedMissing(ctx context.Context) (int, error) {
	if m.embedder == nil {
		return 0, nil
	}

	missing, err := m.store.MissingEmbeddings(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list missing embeddings: %w", err)
	}

	embedded := 0
	for _, rec := range missing {
		vec, err := m.embedder.Embed(ctx, rec.Content)
		if err != nil {
			log.Printf("memory: embed missing %s: %v", rec.ID, err)
			continue
		}
		if err := m.store.AttachEmbedding(ctx, rec.ID, vec); err != nil {
			log.Printf("memory: attach embedding %s: %v", rec.ID, err)
			continue
		}
		embedded++
	}

	return embedded, nil
}
