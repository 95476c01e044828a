package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const selectMessage = `SELECT id, conversation_id, author_id, text, reply_to_id, attachments, edited, deleted_at, created_at, updated_at FROM messages`

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.AuthorID, &m.Text, &m.ReplyToID, &m.Attachments, &m.Edited, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt)
	if len(m.Attachments) == 0 {
		m.Attachments = nil
	}
	return m, err
}

func attachments(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

func (s *Store) CreateMessage(ctx context.Context, m model.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, author_id, text, reply_to_id, attachments, edited, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.ConversationID, m.AuthorID, m.Text, m.ReplyToID, attachments(m.Attachments), m.Edited, m.DeletedAt, m.CreatedAt, m.UpdatedAt)
	return translate(err, "message")
}

func (s *Store) GetMessage(ctx context.Context, id int64) (model.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, selectMessage+` WHERE id = $1`, id))
	return m, translate(err, "message")
}

func (s *Store) UpdateMessage(ctx context.Context, m model.Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET text = $2, attachments = $3, edited = $4, deleted_at = $5, updated_at = $6
		WHERE id = $1
	`, m.ID, m.Text, attachments(m.Attachments), m.Edited, m.DeletedAt, m.UpdatedAt)
	return affected(tag, err, "message")
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, selectMessage+`
		WHERE conversation_id = $1 AND ($2::bigint = 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`, conversationID, before, lim)
	if err != nil {
		return nil, translate(err, "messages")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.Message, error) { return scanMessage(r) })
	return out, translate(err, "messages")
}

func (s *Store) MessageIDsUpTo(ctx context.Context, conversationID string, upTo int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = $1 AND deleted_at IS NULL AND ($2::bigint = 0 OR id <= $2)
		ORDER BY id
	`, conversationID, upTo)
	if err != nil {
		return nil, translate(err, "messages")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	return ids, translate(err, "messages")
}

func (s *Store) CountMessagesSince(ctx context.Context, conversationID, excludeAuthor string, since time.Time) (int, error) {
	var after *time.Time
	if !since.IsZero() {
		after = &since
	}
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id = $1 AND deleted_at IS NULL AND author_id <> $2
		  AND ($3::timestamptz IS NULL OR created_at > $3)
	`, conversationID, excludeAuthor, after).Scan(&n)
	return n, translate(err, "messages")
}

// Receipts

func (s *Store) UpsertReceipt(ctx context.Context, r model.Receipt) (bool, error) {
	if !r.Status.Valid() {
		return false, apperr.Validation("invalid receipt status")
	}
	if r.Status != model.ReceiptRead {
		r.SeenAt = nil
	}
	// The conditional update only fires on a forward transition.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO receipts (message_id, user_id, status_rank, seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status_rank = EXCLUDED.status_rank, seen_at = EXCLUDED.seen_at, updated_at = EXCLUDED.updated_at
		WHERE receipts.status_rank < EXCLUDED.status_rank
	`, r.MessageID, r.UserID, r.Status.Rank(), r.SeenAt, r.UpdatedAt)
	if err != nil {
		return false, translate(err, "receipt")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListReceipts(ctx context.Context, messageID int64) ([]model.Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id, status_rank, seen_at, updated_at FROM receipts
		WHERE message_id = $1 ORDER BY user_id
	`, messageID)
	if err != nil {
		return nil, translate(err, "receipts")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Receipt, error) {
		var (
			r    model.Receipt
			rank int
		)
		err := row.Scan(&r.MessageID, &r.UserID, &rank, &r.SeenAt, &r.UpdatedAt)
		r.Status = model.ReceiptStatusFromRank(rank)
		return r, err
	})
	return out, translate(err, "receipts")
}

// Reactions

func (s *Store) GetReaction(ctx context.Context, messageID int64, userID, emoji string) (model.Reaction, error) {
	var r model.Reaction
	err := s.pool.QueryRow(ctx, `
		SELECT message_id, user_id, emoji, created_at FROM reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji).Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
	return r, translate(err, "reaction")
}

func (s *Store) CreateReaction(ctx context.Context, r model.Reaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)
	`, r.MessageID, r.UserID, r.Emoji, r.CreatedAt)
	return translate(err, "reaction")
}

func (s *Store) DeleteReaction(ctx context.Context, messageID int64, userID, emoji string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`, messageID, userID, emoji)
	return affected(tag, err, "reaction")
}

func (s *Store) ListReactions(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at FROM reactions
		WHERE message_id = $1 ORDER BY seq
	`, messageID)
	if err != nil {
		return nil, translate(err, "reactions")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Reaction, error) {
		var r model.Reaction
		err := row.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
		return r, err
	})
	return out, translate(err, "reactions")
}
