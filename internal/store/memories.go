package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/doppelhq/doppel/internal/embed"
	"github.com/doppelhq/doppel/internal/memory"
)

const memoryColumns = `m.id, m.owner_id, m.content, m.summary, m.category, m.source, m.source_ref,
	m.importance, m.access_count, m.created_at, m.last_accessed_at,
	EXISTS (SELECT 1 FROM memory_vectors v WHERE v.memory_id = m.id)`

func scanMemory(row interface{ Scan(...any) error }) (memory.Memory, error) {
	var m memory.Memory
	var summary, source, sourceRef sql.NullString
	var lastAccessed sql.NullInt64

	err := row.Scan(&m.ID, &m.OwnerID, &m.Content, &summary, &m.Category, &source, &sourceRef,
		&m.Importance, &m.AccessCount, &m.CreatedAt, &lastAccessed, &m.Embedded)
	if err != nil {
		return m, err
	}
	m.Summary = summary.String
	m.Source = source.String
	m.SourceRef = sourceRef.String
	m.LastAccessedAt = lastAccessed.Int64
	return m, nil
}

// InsertMemory persists a memory row and, when vec is non-nil, its vector.
// Row and vector go in one transaction so a record never ends up with a
// dangling vector.
func (db *DB) InsertMemory(ctx context.Context, m *memory.Memory, vec []float64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert memory: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, owner_id, content, summary, category, source, source_ref,
			importance, access_count, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, 0, ?)
	`, m.ID, m.OwnerID, m.Content, m.Summary, m.Category, m.Source, m.SourceRef,
		m.Importance, m.CreatedAt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert memory: %w", err)
	}

	if vec != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_vectors (memory_id, embedding, dimensions, created_at)
			VALUES (?, ?, ?, ?)
		`, m.ID, encodeEmbedding(vec), len(vec), m.CreatedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert memory vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert memory: %w", err)
	}
	return nil
}

// GetMemory returns an owner-scoped memory, or memory.ErrNotFound.
func (db *DB) GetMemory(ctx context.Context, ownerID, id string) (*memory.Memory, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m WHERE m.id = ? AND m.owner_id = ?
	`, id, ownerID)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return &m, nil
}

// DeleteMemory removes an owner-scoped memory. The vector row cascades.
func (db *DB) DeleteMemory(ctx context.Context, ownerID, id string) (bool, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM memories WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// DeleteMemoriesBySource removes all memories derived from sourceRef.
func (db *DB) DeleteMemoriesBySource(ctx context.Context, ownerID, sourceRef string) (int, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM memories WHERE owner_id = ? AND source_ref = ?", ownerID, sourceRef)
	if err != nil {
		return 0, fmt.Errorf("delete memories by source: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// RecentMemories returns memories ordered by creation time descending. An
// empty category matches every row; the filter runs before the limit.
func (db *DB) RecentMemories(ctx context.Context, ownerID, category string, limit int) ([]memory.Memory, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memories m WHERE m.owner_id = ?`
	args := []any{ownerID}
	if category != "" {
		query += ` AND m.category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY m.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ImportantMemories returns memories ordered by importance then access count.
func (db *DB) ImportantMemories(ctx context.Context, ownerID string, limit int) ([]memory.Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+`
		FROM memories m WHERE m.owner_id = ?
		ORDER BY m.importance DESC, m.access_count DESC LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("important memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

func collectMemories(rows *sql.Rows) ([]memory.Memory, error) {
	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SimilarMemories ranks an owner's embedded memories by cosine similarity to
// queryVec. Rows without a vector never appear. Results below minScore are
// dropped; the rest are sorted descending and capped at limit.
func (db *DB) SimilarMemories(ctx context.Context, ownerID string, queryVec []float64, category string, minScore float64, limit int) ([]memory.Scored, error) {
	query := `
		SELECT ` + memoryColumns + `, v.embedding
		FROM memories m
		JOIN memory_vectors v ON v.memory_id = m.id
		WHERE m.owner_id = ?`
	args := []any{ownerID}
	if category != "" {
		query += " AND m.category = ?"
		args = append(args, category)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similar memories: %w", err)
	}
	defer rows.Close()

	var scored []memory.Scored
	for rows.Next() {
		var m memory.Memory
		var summary, source, sourceRef sql.NullString
		var lastAccessed sql.NullInt64
		var blob []byte

		err := rows.Scan(&m.ID, &m.OwnerID, &m.Content, &summary, &m.Category, &source, &sourceRef,
			&m.Importance, &m.AccessCount, &m.CreatedAt, &lastAccessed, &m.Embedded, &blob)
		if err != nil {
			return nil, fmt.Errorf("scan similar memory: %w", err)
		}
		m.Summary = summary.String
		m.Source = source.String
		m.SourceRef = sourceRef.String
		m.LastAccessedAt = lastAccessed.Int64

		sim := embed.CosineSimilarity(queryVec, decodeEmbedding(blob))
		if sim < minScore {
			continue
		}
		scored = append(scored, memory.Scored{Memory: m, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar memories: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// IncrementAccess bumps access counters for the given ids. Best-effort and
// not exactly-once: concurrent bumps may lose updates, which is acceptable.
func (db *DB) IncrementAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("increment access: %w", err)
	}
	return nil
}

// MissingEmbeddings returns memories created without a vector, oldest first.
// limit <= 0 means no cap.
func (db *DB) MissingEmbeddings(ctx context.Context, limit int) ([]memory.Memory, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memories m
		WHERE NOT EXISTS (SELECT 1 FROM memory_vectors v WHERE v.memory_id = m.id)
		ORDER BY m.created_at`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("missing embeddings: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// AttachEmbedding adds or replaces the vector for a memory.
func (db *DB) AttachEmbedding(ctx context.Context, id string, vec []float64) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(vec)

	_, err := db.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, embedding, dimensions, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding = ?, dimensions = ?, created_at = ?
	`, id, blob, len(vec), now, blob, len(vec), now)
	if err != nil {
		return fmt.Errorf("attach embedding: %w", err)
	}
	return nil
}
