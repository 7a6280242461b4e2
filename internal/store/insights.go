package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doppelhq/doppel/internal/memory"
)

// AppendInsight inserts a new insight row. Insights are append-only:
// duplicate keys accumulate as separate rows rather than merging.
func (db *DB) AppendInsight(ctx context.Context, in *memory.Insight) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO insights (id, owner_id, category, key, value, confidence, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, in.ID, in.OwnerID, in.Category, in.Key, in.Value, in.Confidence, in.Source, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("append insight: %w", err)
	}
	return nil
}

// ListInsights returns an owner's insights, newest first.
func (db *DB) ListInsights(ctx context.Context, ownerID string, limit int) ([]memory.Insight, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, owner_id, category, key, value, confidence, source, created_at
		FROM insights WHERE owner_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []memory.Insight
	for rows.Next() {
		var in memory.Insight
		var source sql.NullString
		if err := rows.Scan(&in.ID, &in.OwnerID, &in.Category, &in.Key, &in.Value,
			&in.Confidence, &source, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.Source = source.String
		out = append(out, in)
	}
	return out, rows.Err()
}
