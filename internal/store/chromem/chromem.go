// Package chromem provides an in-memory implementation of the memory.Store
// interface backed by chromem-go. It is used by tests and by `doppel serve
// --store memory`; nothing survives a restart.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/doppelhq/doppel/internal/memory"
)

// Store keeps memory records in process memory. Embedded records are mirrored
// into a per-owner chromem collection for similarity queries; records without
// a vector live only in the record map, matching the rule that degraded rows
// never appear in semantic results.
type Store struct {
	db *chromemgo.DB

	mu          sync.RWMutex
	records     map[string]map[string]memory.Memory // owner -> id -> record
	owners      map[string]string                   // id -> owner, for AttachEmbedding
	collections map[string]*chromemgo.Collection
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		db:          chromemgo.NewDB(),
		records:     make(map[string]map[string]memory.Memory),
		owners:      make(map[string]string),
		collections: make(map[string]*chromemgo.Collection),
	}
}

func (s *Store) collection(ownerID string) (*chromemgo.Collection, error) {
	if col, ok := s.collections[ownerID]; ok {
		return col, nil
	}

	name := "owner_" + ownerID
	if ownerID == "" {
		name = "global"
	}
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[ownerID] = col
	return col, nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

// InsertMemory stores a record; vec may be nil.
func (s *Store) InsertMemory(ctx context.Context, m *memory.Memory, vec []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[m.OwnerID] == nil {
		s.records[m.OwnerID] = make(map[string]memory.Memory)
	}
	rec := *m
	rec.Embedded = vec != nil
	s.records[m.OwnerID][m.ID] = rec
	s.owners[m.ID] = m.OwnerID

	if vec == nil {
		return nil
	}
	return s.addDocument(ctx, &rec, vec)
}

// addDocument mirrors an embedded record into the owner's collection.
// Caller holds the write lock.
func (s *Store) addDocument(ctx context.Context, m *memory.Memory, vec []float64) error {
	col, err := s.collection(m.OwnerID)
	if err != nil {
		return err
	}
	doc := chromemgo.Document{
		ID:        m.ID,
		Content:   m.Content,
		Embedding: toFloat32(vec),
		Metadata:  map[string]string{"category": m.Category},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// GetMemory returns an owner-scoped record, or memory.ErrNotFound.
func (s *Store) GetMemory(_ context.Context, ownerID, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ownerID][id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	out := rec
	return &out, nil
}

// DeleteMemory removes an owner-scoped record and its collection document.
func (s *Store) DeleteMemory(ctx context.Context, ownerID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ownerID][id]
	if !ok {
		return false, nil
	}
	delete(s.records[ownerID], id)
	delete(s.owners, id)

	if rec.Embedded {
		if col, ok := s.collections[ownerID]; ok {
			if err := col.Delete(ctx, nil, nil, id); err != nil {
				return true, fmt.Errorf("delete document: %w", err)
			}
		}
	}
	return true, nil
}

// DeleteMemoriesBySource removes all records derived from sourceRef.
func (s *Store) DeleteMemoriesBySource(ctx context.Context, ownerID, sourceRef string) (int, error) {
	s.mu.Lock()
	var ids []string
	for id, rec := range s.records[ownerID] {
		if rec.SourceRef == sourceRef {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		ok, err := s.DeleteMemory(ctx, ownerID, id)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// RecentMemories returns records ordered by creation time descending. An
// empty category matches every record; the filter runs before the limit.
func (s *Store) RecentMemories(_ context.Context, ownerID, category string, limit int) ([]memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]memory.Memory, 0, len(s.records[ownerID]))
	for _, rec := range s.records[ownerID] {
		if category != "" && rec.Category != category {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID // ULIDs sort by creation time
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SimilarMemories queries the owner's collection by embedding.
func (s *Store) SimilarMemories(ctx context.Context, ownerID string, queryVec []float64, category string, minScore float64, limit int) ([]memory.Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[ownerID]
	if !ok || col.Count() == 0 {
		return nil, nil
	}

	var where map[string]string
	available := col.Count()
	if category != "" {
		where = map[string]string{"category": category}
		available = 0
		for _, rec := range s.records[ownerID] {
			if rec.Embedded && rec.Category == category {
				available++
			}
		}
		if available == 0 {
			return nil, nil
		}
	}

	// chromem rejects nResults larger than the filtered document count.
	n := limit
	if n <= 0 || n > available {
		n = available
	}

	results, err := col.QueryEmbedding(ctx, toFloat32(queryVec), n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	var scored []memory.Scored
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < minScore {
			continue
		}
		rec, ok := s.records[ownerID][res.ID]
		if !ok {
			continue
		}
		scored = append(scored, memory.Scored{Memory: rec, Similarity: sim})
	}
	return scored, nil
}

// IncrementAccess bumps counters on the in-memory records.
func (s *Store) IncrementAccess(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, id := range ids {
		owner, ok := s.owners[id]
		if !ok {
			continue
		}
		rec := s.records[owner][id]
		rec.AccessCount++
		rec.LastAccessedAt = now
		s.records[owner][id] = rec
	}
	return nil
}

// MissingEmbeddings returns records created without a vector.
func (s *Store) MissingEmbeddings(_ context.Context, limit int) ([]memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.Memory
	for _, byID := range s.records {
		for _, rec := range byID {
			if !rec.Embedded {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AttachEmbedding moves a degraded record into the owner's collection.
func (s *Store) AttachEmbedding(ctx context.Context, id string, vec []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[id]
	if !ok {
		return memory.ErrNotFound
	}
	rec := s.records[owner][id]
	rec.Embedded = true
	s.records[owner][id] = rec

	return s.addDocument(ctx, &rec, vec)
}
