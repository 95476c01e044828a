// Package notification persists per-recipient notifications for
// conversation events and answers notification queries.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Store interface {
	GetUser(ctx context.Context, id string) (model.Identity, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	GetMember(ctx context.Context, conversationID, userID string) (model.Membership, error)
	ListMembers(ctx context.Context, conversationID string) ([]model.Membership, error)
	CreateNotifications(ctx context.Context, ns []model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
}

type Fanout struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewFanout(store Store, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ForMembers writes one notification for every member of the conversation
// except the actor and returns what was written.
func (f *Fanout) ForMembers(ctx context.Context, conversationID, actorID string, typ model.NotificationType, c Context) ([]model.Notification, error) {
	conv, err := f.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members, err := f.store.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	n := names{actor: f.displayName(ctx, actorID), conversation: conversationName(conv)}
	title, body, err := render(typ, n, c)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	now := f.now()
	out := make([]model.Notification, 0, len(members))
	for _, m := range members {
		if m.UserID == actorID {
			continue
		}
		out = append(out, f.build(m.UserID, actorID, conversationID, typ, title, body, c, now))
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := f.store.CreateNotifications(ctx, out); err != nil {
		return nil, fmt.Errorf("create notifications: %w", err)
	}
	return out, nil
}

// ForUser notifies a single recipient if ShouldNotify allows it. A nil
// notification with a nil error means the recipient was skipped.
func (f *Fanout) ForUser(ctx context.Context, recipientID, actorID, conversationID string, typ model.NotificationType, c Context) (*model.Notification, error) {
	ok, err := f.ShouldNotify(ctx, recipientID, actorID, conversationID)
	if err != nil || !ok {
		return nil, err
	}
	n := names{actor: f.displayName(ctx, actorID), conversation: "a conversation"}
	if conversationID != "" {
		conv, err := f.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		n.conversation = conversationName(conv)
	}
	title, body, err := render(typ, n, c)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	nt := f.build(recipientID, actorID, conversationID, typ, title, body, c, f.now())
	if err := f.store.CreateNotifications(ctx, []model.Notification{nt}); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return &nt, nil
}

// ShouldNotify is false when the recipient is the actor, or when a
// conversation is given and the recipient is no longer a member of it.
// Membership is read at call time.
func (f *Fanout) ShouldNotify(ctx context.Context, recipientID, actorID, conversationID string) (bool, error) {
	if recipientID == actorID {
		return false, nil
	}
	if conversationID == "" {
		return true, nil
	}
	if _, err := f.store.GetMember(ctx, conversationID, recipientID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *Fanout) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return f.store.ListNotifications(ctx, userID, limit)
}

func (f *Fanout) UnreadCount(ctx context.Context, userID string) (int, error) {
	return f.store.CountUnreadNotifications(ctx, userID)
}

// MarkRead marks one of the user's notifications read and returns the new
// unread count.
func (f *Fanout) MarkRead(ctx context.Context, userID, notificationID string) (int, error) {
	if notificationID == "" {
		return 0, apperr.Validation("notificationId is required")
	}
	if err := f.store.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		return 0, err
	}
	return f.store.CountUnreadNotifications(ctx, userID)
}

// MarkAllRead returns how many notifications changed.
func (f *Fanout) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return f.store.MarkAllNotificationsRead(ctx, userID)
}

func (f *Fanout) build(recipientID, actorID, conversationID string, typ model.NotificationType, title, body string, c Context, now time.Time) model.Notification {
	return model.Notification{
		ID:             uuid.NewString(),
		RecipientID:    recipientID,
		Type:           typ,
		Title:          title,
		Body:           body,
		ActorID:        actorID,
		ConversationID: conversationID,
		MessageID:      c.MessageID,
		InvitationID:   c.InvitationID,
		CreatedAt:      now,
	}
}

func (f *Fanout) displayName(ctx context.Context, userID string) string {
	u, err := f.store.GetUser(ctx, userID)
	if err != nil {
		f.log.Debug("notification actor lookup failed", "user", userID, "error", err)
		return "Someone"
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}
