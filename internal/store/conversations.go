package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation groups the messages of one chat session.
type Conversation struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Title     string `json:"title,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Message is a single turn in a conversation. The embedding is attached
// after the fact by a background task and may stay absent.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Embedded       bool   `json:"embedded"`
	CreatedAt      int64  `json:"createdAt"`
}

// CreateConversation starts a new conversation for an owner.
func (db *DB) CreateConversation(ctx context.Context, ownerID string) (*Conversation, error) {
	now := time.Now().UnixMilli()
	c := &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns an owner-scoped conversation, or nil when the id
// is unknown or belongs to another owner.
func (db *DB) GetConversation(ctx context.Context, ownerID, id string) (*Conversation, error) {
	var c Conversation
	var title sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations WHERE id = ? AND owner_id = ?
	`, id, ownerID).Scan(&c.ID, &c.OwnerID, &title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.Title = title.String
	return &c, nil
}

// SetConversationTitle sets the display title, typically derived from the
// first utterance.
func (db *DB) SetConversationTitle(ctx context.Context, id, title string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return nil
}

// AppendMessage adds a turn to a conversation and touches its updated_at.
func (db *DB) AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	now := time.Now().UnixMilli()
	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return m, nil
}

// RecentMessages returns the newest limit messages of a conversation in
// chronological order, ready for use as chat history.
func (db *DB) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, embedding IS NOT NULL, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Embedded, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AttachMessageEmbedding stores the vector for a message. Called from the
// background embedding task after the reply has already been returned.
func (db *DB) AttachMessageEmbedding(ctx context.Context, messageID string, vec []float64) error {
	_, err := db.ExecContext(ctx,
		"UPDATE messages SET embedding = ? WHERE id = ?", encodeEmbedding(vec), messageID)
	if err != nil {
		return fmt.Errorf("attach message embedding: %w", err)
	}
	return nil
}
