package store

import (
	"context"
	"math"
	"testing"

	"github.com/doppelhq/doppel/internal/memory"
)

func TestMemoryStatsFor(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	insertTestMemory(t, db, &memory.Memory{
		ID: "m1", OwnerID: "alice", Content: "a", Category: "fact",
		Source: "chat", Importance: 0.4, CreatedAt: 1,
	}, []float64{1, 0})
	insertTestMemory(t, db, &memory.Memory{
		ID: "m2", OwnerID: "alice", Content: "b", Category: "fact",
		Source: "manual", Importance: 0.8, CreatedAt: 2,
	}, nil)
	insertTestMemory(t, db, &memory.Memory{
		ID: "m3", OwnerID: "alice", Content: "c", Category: "preference",
		Source: "chat", Importance: 0.6, CreatedAt: 3,
	}, []float64{0, 1})
	insertTestMemory(t, db, &memory.Memory{
		ID: "m4", OwnerID: "bob", Content: "d", Category: "habit",
		Source: "chat", Importance: 1.0, CreatedAt: 4,
	}, nil)

	stats, err := db.MemoryStatsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("MemoryStatsFor: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.Embedded != 2 {
		t.Errorf("embedded = %d, want 2", stats.Embedded)
	}
	if stats.ByCategory["fact"] != 2 || stats.ByCategory["preference"] != 1 {
		t.Errorf("byCategory = %v", stats.ByCategory)
	}
	if stats.BySource["chat"] != 2 || stats.BySource["manual"] != 1 {
		t.Errorf("bySource = %v", stats.BySource)
	}
	if math.Abs(stats.AvgImportance-0.6) > 1e-9 {
		t.Errorf("avgImportance = %f, want 0.6", stats.AvgImportance)
	}
}

func TestMemoryStatsEmpty(t *testing.T) {
	db := testDB(t)

	stats, err := db.MemoryStatsFor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("MemoryStatsFor: %v", err)
	}
	if stats.Total != 0 || stats.AvgImportance != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
}

func TestInsightStatsFor(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i, in := range []*memory.Insight{
		{ID: "i1", OwnerID: "alice", Category: "personality", Key: "a", Value: "v", Confidence: 0.6},
		{ID: "i2", OwnerID: "alice", Category: "personality", Key: "b", Value: "v", Confidence: 0.8},
		{ID: "i3", OwnerID: "alice", Category: "behavior", Key: "c", Value: "v", Confidence: 1.0},
	} {
		in.CreatedAt = int64(i)
		if err := db.AppendInsight(ctx, in); err != nil {
			t.Fatalf("AppendInsight: %v", err)
		}
	}

	stats, err := db.InsightStatsFor(ctx, "alice")
	if err != nil {
		t.Fatalf("InsightStatsFor: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByCategory["personality"] != 2 || stats.ByCategory["behavior"] != 1 {
		t.Errorf("byCategory = %v", stats.ByCategory)
	}
	if math.Abs(stats.AvgConfidence-0.8) > 1e-9 {
		t.Errorf("avgConfidence = %f, want 0.8", stats.AvgConfidence)
	}
}
