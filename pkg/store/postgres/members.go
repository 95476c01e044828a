package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const selectMembership = `SELECT conversation_id, user_id, role, last_read_message_id, joined_at FROM memberships`

func scanMembership(row pgx.Row) (model.Membership, error) {
	var m model.Membership
	err := row.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.LastReadMessageID, &m.JoinedAt)
	return m, err
}

func (s *Store) AddMember(ctx context.Context, m model.Membership) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (conversation_id, user_id, role, last_read_message_id, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ConversationID, m.UserID, m.Role, m.LastReadMessageID, m.JoinedAt)
	return translate(err, "membership")
}

func (s *Store) GetMember(ctx context.Context, conversationID, userID string) (model.Membership, error) {
	m, err := scanMembership(s.pool.QueryRow(ctx, selectMembership+` WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID))
	return m, translate(err, "membership")
}

func (s *Store) ListMembers(ctx context.Context, conversationID string) ([]model.Membership, error) {
	rows, err := s.pool.Query(ctx, selectMembership+` WHERE conversation_id = $1 ORDER BY joined_at, user_id`, conversationID)
	if err != nil {
		return nil, translate(err, "memberships")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (model.Membership, error) { return scanMembership(r) })
	return out, translate(err, "memberships")
}

func (s *Store) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT conversation_id FROM memberships WHERE user_id = $1 ORDER BY conversation_id`, userID)
	if err != nil {
		return nil, translate(err, "memberships")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, translate(err, "memberships")
}

func (s *Store) RemoveMember(ctx context.Context, conversationID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memberships WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	return affected(tag, err, "membership")
}

func (s *Store) SetRole(ctx context.Context, conversationID, userID string, role model.Role) error {
	tag, err := s.pool.Exec(ctx, `UPDATE memberships SET role = $3 WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, role)
	return affected(tag, err, "membership")
}

func (s *Store) CountRole(ctx context.Context, conversationID string, role model.Role) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memberships WHERE conversation_id = $1 AND role = $2`, conversationID, role).Scan(&n)
	return n, translate(err, "memberships")
}

func (s *Store) SetLastRead(ctx context.Context, conversationID, userID string, messageID int64) error {
	// GREATEST keeps the pointer monotonic while still reporting a missing row.
	tag, err := s.pool.Exec(ctx, `
		UPDATE memberships SET last_read_message_id = GREATEST(last_read_message_id, $3)
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, messageID)
	return affected(tag, err, "membership")
}
