package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// History archives messages per conversation, newest first.
type History struct {
	s *Session
}

func NewHistory(s *Session) *History {
	return &History{s: s}
}

// Archive writes the current state of m. Writes are upserts, so replays
// and out-of-order edits converge on the last write.
func (h *History) Archive(ctx context.Context, m model.Message) error {
	err := h.s.Query(`INSERT INTO messages (conversation_id, id, author_id, text, reply_to_id, attachments, edited, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ID, m.AuthorID, m.Text, m.ReplyToID, m.Attachments, m.Edited, m.DeletedAt, m.CreatedAt, m.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("archive message %d: %w", m.ID, err)
	}
	return nil
}

// MarkDeleted replaces an archived message's text with the placeholder.
func (h *History) MarkDeleted(ctx context.Context, conversationID string, messageID int64, at time.Time) error {
	err := h.s.Query(`UPDATE messages SET text = ?, attachments = null, deleted_at = ?, updated_at = ? WHERE conversation_id = ? AND id = ?`,
		model.DeletedPlaceholder, at, at, conversationID, messageID,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("archive delete %d: %w", messageID, err)
	}
	return nil
}

// Page returns up to limit messages of a conversation with ids below
// before (zero means from the newest), newest first.
func (h *History) Page(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	stmt, args := pageQuery(conversationID, before, ClampLimit(limit))
	iter := h.s.Query(stmt, args...).WithContext(ctx).Iter()

	var (
		out       []model.Message
		m         model.Message
		deletedAt *time.Time
	)
	for iter.Scan(&m.ConversationID, &m.ID, &m.AuthorID, &m.Text, &m.ReplyToID, &m.Attachments, &m.Edited, &deletedAt, &m.CreatedAt, &m.UpdatedAt) {
		m.DeletedAt = nil
		if deletedAt != nil && !deletedAt.IsZero() {
			t := *deletedAt
			m.DeletedAt = &t
		}
		out = append(out, m)
		m = model.Message{}
		deletedAt = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read history %s: %w", conversationID, err)
	}
	return out, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

const selectMessages = `SELECT conversation_id, id, author_id, text, reply_to_id, attachments, edited, deleted_at, created_at, updated_at FROM messages WHERE conversation_id = ?`

func pageQuery(conversationID string, before int64, limit int) (string, []any) {
	if before > 0 {
		return selectMessages + ` AND id < ? LIMIT ?`, []any{conversationID, before, limit}
	}
	return selectMessages + ` LIMIT ?`, []any{conversationID, limit}
}
