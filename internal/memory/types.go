// Package memory implements the long-term memory manager: creation with
// best-effort embedding, ranked semantic search with a recency fallback, and
// owner-scoped deletion.
package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a delete or lookup targets a memory that does
// not exist or belongs to another owner.
var ErrNotFound = errors.New("memory not found")

// Memory is a persisted fact about the subject. Content is immutable after
// creation; only access tracking fields change, and those tolerate lost
// updates under concurrency.
type Memory struct {
	ID             string  `json:"id"`
	OwnerID        string  `json:"ownerId"`
	Content        string  `json:"content"`
	Summary        string  `json:"summary,omitempty"`
	Category       string  `json:"category"`
	Source         string  `json:"source,omitempty"`
	SourceRef      string  `json:"sourceRef,omitempty"`
	Importance     float64 `json:"importance"`
	Embedded       bool    `json:"embedded"`
	AccessCount    int     `json:"accessCount"`
	CreatedAt      int64   `json:"createdAt"`
	LastAccessedAt int64   `json:"lastAccessedAt,omitempty"`
}

// Insight is an append-only structured observation. Unlike a Memory it is
// not embedding-searchable; duplicate keys accumulate as new rows.
type Insight struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"ownerId"`
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
	CreatedAt  int64   `json:"createdAt"`
}

// Scored pairs a memory with its similarity to a query vector.
type Scored struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// validCategories defines the allowed memory categories.
var validCategories = map[string]bool{
	"fact": true, "preference": true, "experience": true,
	"relationship": true, "habit": true,
}

// validSources defines the allowed memory origin tags.
var validSources = map[string]bool{
	"chat": true, "manual": true, "import": true,
	"photo": true, "question": true,
}

// ValidCategory reports whether category is one of the allowed values.
func ValidCategory(category string) bool {
	return validCategories[category]
}

// clampImportance forces importance into [0,1].
func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Store is the persistence interface the manager drives. The sqlite store
// is the primary implementation; the chromem store backs tests and the
// in-memory dev mode.
type Store interface {
	// InsertMemory persists a single record. vec may be nil (degraded mode);
	// records without a vector are excluded from similarity search.
	InsertMemory(ctx context.Context, m *Memory, vec []float64) error

	// GetMemory returns an owner-scoped record, or ErrNotFound.
	GetMemory(ctx context.Context, ownerID, id string) (*Memory, error)

	// DeleteMemory removes an owner-scoped record and reports whether a row
	// was actually deleted.
	DeleteMemory(ctx context.Context, ownerID, id string) (bool, error)

	// DeleteMemoriesBySource removes all records whose sourceRef matches,
	// returning the number deleted. Used to cascade deletes when an
	// originating record is removed.
	DeleteMemoriesBySource(ctx context.Context, ownerID, sourceRef string) (int, error)

	// RecentMemories returns records ordered by creation time descending,
	// optionally restricted to one category before the limit applies.
	RecentMemories(ctx context.Context, ownerID, category string, limit int) ([]Memory, error)

	// SimilarMemories ranks records with vectors by cosine similarity to
	// queryVec, filtered by owner, optional category, and minScore.
	SimilarMemories(ctx context.Context, ownerID string, queryVec []float64, category string, minScore float64, limit int) ([]Scored, error)

	// IncrementAccess bumps access counters for the given ids. Best-effort:
	// lost updates are acceptable.
	IncrementAccess(ctx context.Context, ids []string) error

	// MissingEmbeddings returns records created without a vector.
	MissingEmbeddings(ctx context.Context, limit int) ([]Memory, error)

	// AttachEmbedding adds a vector to a previously degraded record.
	AttachEmbedding(ctx context.Context, id string, vec []float64) error
}
