package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MemoryStats summarizes an owner's memory store.
type MemoryStats struct {
	Total         int            `json:"total"`
	ByCategory    map[string]int `json:"byCategory"`
	BySource      map[string]int `json:"bySource"`
	AvgImportance float64        `json:"avgImportance"`
	Embedded      int            `json:"embedded"`
}

// InsightStats summarizes an owner's insights.
type InsightStats struct {
	Total         int            `json:"total"`
	ByCategory    map[string]int `json:"byCategory"`
	AvgConfidence float64        `json:"avgConfidence"`
}

// MemoryStatsFor aggregates per-category and per-source counts plus average
// importance for one owner.
func (db *DB) MemoryStatsFor(ctx context.Context, ownerID string) (*MemoryStats, error) {
	stats := &MemoryStats{
		ByCategory: make(map[string]int),
		BySource:   make(map[string]int),
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.category, m.source, m.importance,
			EXISTS (SELECT 1 FROM memory_vectors v WHERE v.memory_id = m.id)
		FROM memories m WHERE m.owner_id = ?
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	defer rows.Close()

	var totalImportance float64
	for rows.Next() {
		var category string
		var source sql.NullString
		var importance float64
		var embedded bool
		if err := rows.Scan(&category, &source, &importance, &embedded); err != nil {
			return nil, fmt.Errorf("scan memory stats: %w", err)
		}
		stats.Total++
		stats.ByCategory[category]++
		if source.String != "" {
			stats.BySource[source.String]++
		}
		if embedded {
			stats.Embedded++
		}
		totalImportance += importance
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.AvgImportance = totalImportance / float64(stats.Total)
	}
	return stats, nil
}

// InsightStatsFor aggregates per-category counts and average confidence.
func (db *DB) InsightStatsFor(ctx context.Context, ownerID string) (*InsightStats, error) {
	stats := &InsightStats{ByCategory: make(map[string]int)}

	rows, err := db.QueryContext(ctx, `
		SELECT category, confidence FROM insights WHERE owner_id = ?
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("insight stats: %w", err)
	}
	defer rows.Close()

	var totalConfidence float64
	for rows.Next() {
		var category string
		var confidence float64
		if err := rows.Scan(&category, &confidence); err != nil {
			return nil, fmt.Errorf("scan insight stats: %w", err)
		}
		stats.Total++
		stats.ByCategory[category]++
		totalConfidence += confidence
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.AvgConfidence = totalConfidence / float64(stats.Total)
	}
	return stats, nil
}
