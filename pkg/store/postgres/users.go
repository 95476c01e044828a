package postgres

import (
	"context"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

func (s *Store) CreateUser(ctx context.Context, u model.Identity) error {
	if u.Status == "" {
		u.Status = model.StatusOffline
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name, avatar_url, status, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.DisplayName, u.AvatarURL, u.Status, u.LastSeenAt)
	return translate(err, "user")
}

func (s *Store) GetUser(ctx context.Context, id string) (model.Identity, error) {
	var u model.Identity
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, avatar_url, status, last_seen_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Status, &u.LastSeenAt)
	return u, translate(err, "user")
}

func (s *Store) SetPresence(ctx context.Context, id string, status model.PresenceStatus, lastSeen time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET status = $2, last_seen_at = $3 WHERE id = $1`, id, status, lastSeen)
	return affected(tag, err, "user")
}

func (s *Store) CreateConversation(ctx context.Context, c model.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, kind, name, public, read_only, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Kind, c.Name, c.Public, c.ReadOnly, c.OwnerID, c.CreatedAt)
	return translate(err, "conversation")
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var c model.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, name, public, read_only, owner_id, created_at FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.Kind, &c.Name, &c.Public, &c.ReadOnly, &c.OwnerID, &c.CreatedAt)
	return c, translate(err, "conversation")
}
