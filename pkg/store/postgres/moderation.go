package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func appendAction(ctx context.Context, db execer, a model.ModerationAction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO moderation_actions (id, kind, actor_id, target_user_id, message_id, conversation_id, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Kind, a.ActorID, a.TargetUserID, a.MessageID, a.ConversationID, a.Reason, a.ExpiresAt, a.CreatedAt)
	return translate(err, "moderation action")
}

func (s *Store) AppendAction(ctx context.Context, a model.ModerationAction) error {
	return appendAction(ctx, s.pool, a)
}

func (s *Store) ListActions(ctx context.Context, conversationID, userID string, kinds ...model.ModerationKind) ([]model.ModerationAction, error) {
	var filter []string
	for _, k := range kinds {
		filter = append(filter, string(k))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, actor_id, target_user_id, message_id, conversation_id, reason, expires_at, created_at
		FROM moderation_actions
		WHERE conversation_id = $1
		  AND ($2 = '' OR target_user_id = $2)
		  AND ($3::text[] IS NULL OR kind = ANY($3))
		ORDER BY seq DESC
	`, conversationID, userID, filter)
	if err != nil {
		return nil, translate(err, "moderation actions")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ModerationAction, error) {
		var a model.ModerationAction
		err := row.Scan(&a.ID, &a.Kind, &a.ActorID, &a.TargetUserID, &a.MessageID, &a.ConversationID, &a.Reason, &a.ExpiresAt, &a.CreatedAt)
		return a, err
	})
	return out, translate(err, "moderation actions")
}

func (s *Store) GetBan(ctx context.Context, conversationID, userID string) (model.ChannelBan, error) {
	var b model.ChannelBan
	err := s.pool.QueryRow(ctx, `
		SELECT conversation_id, user_id, banned_by, reason, expires_at, created_at FROM channel_bans
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&b.ConversationID, &b.UserID, &b.BannedBy, &b.Reason, &b.ExpiresAt, &b.CreatedAt)
	return b, translate(err, "ban")
}

// CreateBan replaces a lapsed ban but conflicts with an active one.
func (s *Store) CreateBan(ctx context.Context, b model.ChannelBan, audit model.ModerationAction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO channel_bans (conversation_id, user_id, banned_by, reason, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (conversation_id, user_id) DO UPDATE
			SET banned_by = EXCLUDED.banned_by, reason = EXCLUDED.reason, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
			WHERE channel_bans.expires_at IS NOT NULL AND channel_bans.expires_at <= EXCLUDED.created_at
		`, b.ConversationID, b.UserID, b.BannedBy, b.Reason, b.ExpiresAt, b.CreatedAt)
		if err != nil {
			return translate(err, "ban")
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("user is already banned")
		}
		return appendAction(ctx, tx, audit)
	})
}

func (s *Store) DeleteBan(ctx context.Context, conversationID, userID string, audit model.ModerationAction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM channel_bans WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
		if err := affected(tag, err, "ban"); err != nil {
			return err
		}
		return appendAction(ctx, tx, audit)
	})
}

// Notifications

func (s *Store) CreateNotifications(ctx context.Context, ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(ns))
	for _, n := range ns {
		rows = append(rows, []any{n.ID, n.RecipientID, string(n.Type), n.Title, n.Body, n.ActorID, n.ConversationID, n.MessageID, n.InvitationID, n.Read, n.CreatedAt})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"notifications"},
		[]string{"id", "recipient_id", "type", "title", "body", "actor_id", "conversation_id", "message_id", "invitation_id", "read", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return translate(err, "notification")
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient_id, type, title, body, actor_id, conversation_id, message_id, invitation_id, read, created_at
		FROM notifications WHERE recipient_id = $1
		ORDER BY seq DESC LIMIT $2
	`, userID, lim)
	if err != nil {
		return nil, translate(err, "notifications")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Notification, error) {
		var n model.Notification
		err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Body, &n.ActorID, &n.ConversationID, &n.MessageID, &n.InvitationID, &n.Read, &n.CreatedAt)
		return n, err
	})
	return out, translate(err, "notifications")
}

func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE recipient_id = $1 AND NOT read`, userID).Scan(&n)
	return n, translate(err, "notifications")
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1 AND recipient_id = $2`, id, userID)
	return affected(tag, err, "notification")
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE recipient_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, translate(err, "notifications")
	}
	return int(tag.RowsAffected()), nil
}

// Invitations

func (s *Store) CreateInvitation(ctx context.Context, inv model.Invitation) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM invitations WHERE conversation_id = $1 AND recipient_id = $2 AND status <> 'PENDING'
		`, inv.ConversationID, inv.RecipientID); err != nil {
			return translate(err, "invitation")
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO invitations (id, conversation_id, inviter_id, recipient_id, status, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, inv.ID, inv.ConversationID, inv.InviterID, inv.RecipientID, inv.Status, inv.ExpiresAt, inv.CreatedAt)
		if err != nil {
			if apperr.KindOf(translate(err, "invitation")) == apperr.KindConflict {
				return apperr.Conflict("invitation already pending")
			}
			return translate(err, "invitation")
		}
		return nil
	})
}

func (s *Store) GetInvitation(ctx context.Context, id string) (model.Invitation, error) {
	var inv model.Invitation
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, inviter_id, recipient_id, status, expires_at, created_at FROM invitations WHERE id = $1
	`, id).Scan(&inv.ID, &inv.ConversationID, &inv.InviterID, &inv.RecipientID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt)
	return inv, translate(err, "invitation")
}

func (s *Store) SetInvitationStatus(ctx context.Context, id string, status model.InvitationStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE invitations SET status = $2 WHERE id = $1`, id, status)
	return affected(tag, err, "invitation")
}
