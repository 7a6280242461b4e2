package store

import (
	"context"
	"errors"
	"testing"

	"github.com/doppelhq/doppel/internal/memory"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertTestMemory(t *testing.T, db *DB, m *memory.Memory, vec []float64) {
	t.Helper()
	if err := db.InsertMemory(context.Background(), m, vec); err != nil {
		t.Fatalf("InsertMemory %s: %v", m.ID, err)
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := &memory.Memory{
		ID:         "mem-1",
		OwnerID:    "alice",
		Content:    "Loves jazz piano",
		Summary:    "jazz piano",
		Category:   "preference",
		Source:     "manual",
		Importance: 0.8,
		CreatedAt:  1000,
	}
	insertTestMemory(t, db, m, []float64{0.1, 0.2, 0.3})

	got, err := db.GetMemory(ctx, "alice", "mem-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != "Loves jazz piano" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Importance != 0.8 {
		t.Errorf("importance = %f, want 0.8", got.Importance)
	}
	if !got.Embedded {
		t.Error("expected Embedded = true when a vector was stored")
	}
	if got.AccessCount != 0 {
		t.Errorf("access_count = %d, want 0", got.AccessCount)
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.GetMemory(ctx, "alice", "nope")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetMemoryOwnerScoped(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{
		ID: "mem-1", OwnerID: "alice", Content: "secret", Category: "fact", CreatedAt: 1,
	}, nil)

	_, err := db.GetMemory(ctx, "bob", "mem-1")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("foreign owner read: err = %v, want ErrNotFound", err)
	}
}

func TestInsertMemoryWithoutVector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{
		ID: "mem-1", OwnerID: "alice", Content: "degraded", Category: "fact", CreatedAt: 1,
	}, nil)

	got, err := db.GetMemory(ctx, "alice", "mem-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Embedded {
		t.Error("expected Embedded = false without a vector")
	}
}

func TestDeleteMemory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{
		ID: "mem-1", OwnerID: "alice", Content: "x", Category: "fact", CreatedAt: 1,
	}, []float64{1, 0})

	deleted, err := db.DeleteMemory(ctx, "alice", "mem-1")
	if err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if !deleted {
		t.Error("expected deleted = true")
	}

	// Vector row cascades with the memory.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM memory_vectors").Scan(&n); err != nil {
		t.Fatalf("count vectors: %v", err)
	}
	if n != 0 {
		t.Errorf("vector rows after delete = %d, want 0", n)
	}

	// Second delete reports nothing removed.
	deleted, err = db.DeleteMemory(ctx, "alice", "mem-1")
	if err != nil {
		t.Fatalf("DeleteMemory again: %v", err)
	}
	if deleted {
		t.Error("expected deleted = false on second delete")
	}
}

func TestDeleteMemoryForeignOwner(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{
		ID: "mem-1", OwnerID: "alice", Content: "x", Category: "fact", CreatedAt: 1,
	}, nil)

	deleted, err := db.DeleteMemory(ctx, "bob", "mem-1")
	if err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if deleted {
		t.Error("foreign owner delete must not remove rows")
	}

	if _, err := db.GetMemory(ctx, "alice", "mem-1"); err != nil {
		t.Errorf("memory should survive foreign delete: %v", err)
	}
}

func TestDeleteMemoriesBySource(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i, id := range []string{"mem-1", "mem-2", "mem-3"} {
		m := &memory.Memory{
			ID: id, OwnerID: "alice", Content: "from photo", Category: "experience",
			Source: "photo", SourceRef: "photo-42", CreatedAt: int64(i),
		}
		if id == "mem-3" {
			m.SourceRef = "photo-99"
		}
		insertTestMemory(t, db, m, nil)
	}

	n, err := db.DeleteMemoriesBySource(ctx, "alice", "photo-42")
	if err != nil {
		t.Fatalf("DeleteMemoriesBySource: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	if _, err := db.GetMemory(ctx, "alice", "mem-3"); err != nil {
		t.Errorf("unrelated memory removed: %v", err)
	}
}

func TestRecentMemoriesOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "old", OwnerID: "alice", Content: "a", Category: "fact", CreatedAt: 100}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "new", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 300}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "mid", OwnerID: "alice", Content: "c", Category: "fact", CreatedAt: 200}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "other", OwnerID: "bob", Content: "d", Category: "fact", CreatedAt: 400}, nil)

	got, err := db.RecentMemories(ctx, "alice", "", 2)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" {
		t.Errorf("order = [%s %s], want [new mid]", got[0].ID, got[1].ID)
	}
}

func TestRecentMemoriesCategoryFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// The matching row is older than the limit's worth of other categories.
	insertTestMemory(t, db, &memory.Memory{ID: "pref", OwnerID: "alice", Content: "a", Category: "preference", CreatedAt: 100}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "fact-1", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 200}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "fact-2", OwnerID: "alice", Content: "c", Category: "fact", CreatedAt: 300}, nil)

	got, err := db.RecentMemories(ctx, "alice", "preference", 2)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pref" {
		t.Errorf("got %+v, want [pref]", got)
	}
}

func TestImportantMemoriesOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "low", OwnerID: "alice", Content: "a", Category: "fact", Importance: 0.2, CreatedAt: 1}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "high", OwnerID: "alice", Content: "b", Category: "fact", Importance: 0.9, CreatedAt: 2}, nil)

	got, err := db.ImportantMemories(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ImportantMemories: %v", err)
	}
	if len(got) != 2 || got[0].ID != "high" {
		t.Errorf("expected high importance first, got %+v", got)
	}
}

func TestSimilarMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "close", OwnerID: "alice", Content: "a", Category: "preference", CreatedAt: 1}, []float64{1, 0, 0})
	insertTestMemory(t, db, &memory.Memory{ID: "far", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 2}, []float64{0, 1, 0})
	insertTestMemory(t, db, &memory.Memory{ID: "noVec", OwnerID: "alice", Content: "c", Category: "fact", CreatedAt: 3}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "other", OwnerID: "bob", Content: "d", Category: "fact", CreatedAt: 4}, []float64{1, 0, 0})

	got, err := db.SimilarMemories(ctx, "alice", []float64{1, 0, 0}, "", 0.5, 10)
	if err != nil {
		t.Fatalf("SimilarMemories: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (minScore filters the orthogonal vector)", len(got))
	}
	if got[0].ID != "close" {
		t.Errorf("id = %s, want close", got[0].ID)
	}
	if got[0].Similarity < 0.999 {
		t.Errorf("similarity = %f, want ~1", got[0].Similarity)
	}
}

func TestSimilarMemoriesCategoryFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "pref", OwnerID: "alice", Content: "a", Category: "preference", CreatedAt: 1}, []float64{1, 0})
	insertTestMemory(t, db, &memory.Memory{ID: "fact", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 2}, []float64{1, 0})

	got, err := db.SimilarMemories(ctx, "alice", []float64{1, 0}, "preference", 0, 10)
	if err != nil {
		t.Fatalf("SimilarMemories: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pref" {
		t.Errorf("category filter failed, got %+v", got)
	}
}

func TestSimilarMemoriesLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "a", OwnerID: "alice", Content: "a", Category: "fact", CreatedAt: 1}, []float64{1, 0})
	insertTestMemory(t, db, &memory.Memory{ID: "b", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 2}, []float64{0.9, 0.1})
	insertTestMemory(t, db, &memory.Memory{ID: "c", OwnerID: "alice", Content: "c", Category: "fact", CreatedAt: 3}, []float64{0.8, 0.2})

	got, err := db.SimilarMemories(ctx, "alice", []float64{1, 0}, "", 0, 2)
	if err != nil {
		t.Fatalf("SimilarMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Similarity < got[1].Similarity {
		t.Error("results not sorted by similarity descending")
	}
}

func TestIncrementAccess(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "mem-1", OwnerID: "alice", Content: "a", Category: "fact", CreatedAt: 1}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "mem-2", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 2}, nil)

	if err := db.IncrementAccess(ctx, []string{"mem-1"}); err != nil {
		t.Fatalf("IncrementAccess: %v", err)
	}
	if err := db.IncrementAccess(ctx, []string{"mem-1", "mem-2"}); err != nil {
		t.Fatalf("IncrementAccess: %v", err)
	}

	got, err := db.GetMemory(ctx, "alice", "mem-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("access_count = %d, want 2", got.AccessCount)
	}
	if got.LastAccessedAt == 0 {
		t.Error("last_accessed_at not set")
	}

	// Empty id list is a no-op.
	if err := db.IncrementAccess(ctx, nil); err != nil {
		t.Errorf("IncrementAccess(nil): %v", err)
	}
}

func TestMissingEmbeddingsAndAttach(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{ID: "embedded", OwnerID: "alice", Content: "a", Category: "fact", CreatedAt: 1}, []float64{1, 0})
	insertTestMemory(t, db, &memory.Memory{ID: "bare-old", OwnerID: "alice", Content: "b", Category: "fact", CreatedAt: 2}, nil)
	insertTestMemory(t, db, &memory.Memory{ID: "bare-new", OwnerID: "alice", Content: "c", Category: "fact", CreatedAt: 3}, nil)

	missing, err := db.MissingEmbeddings(ctx, 0)
	if err != nil {
		t.Fatalf("MissingEmbeddings: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("len = %d, want 2", len(missing))
	}
	if missing[0].ID != "bare-old" {
		t.Errorf("oldest first: got %s", missing[0].ID)
	}

	if err := db.AttachEmbedding(ctx, "bare-old", []float64{0, 1}); err != nil {
		t.Fatalf("AttachEmbedding: %v", err)
	}

	missing, err = db.MissingEmbeddings(ctx, 0)
	if err != nil {
		t.Fatalf("MissingEmbeddings: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != "bare-new" {
		t.Errorf("after attach, missing = %+v", missing)
	}

	// Attached vector participates in similarity search.
	got, err := db.SimilarMemories(ctx, "alice", []float64{0, 1}, "", 0.9, 10)
	if err != nil {
		t.Fatalf("SimilarMemories: %v", err)
	}
	if len(got) != 1 || got[0].ID != "bare-old" {
		t.Errorf("backfilled vector not searchable, got %+v", got)
	}
}
