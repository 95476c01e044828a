// Package store declares the repository port the realtime core reads and
// writes through. Adapters translate storage failures into apperr kinds:
// a missing row is apperr.KindNotFound and a uniqueness violation is
// apperr.KindConflict.
package store

import (
	"context"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

type Users interface {
	CreateUser(ctx context.Context, u model.Identity) error
	GetUser(ctx context.Context, id string) (model.Identity, error)
	SetPresence(ctx context.Context, id string, status model.PresenceStatus, lastSeen time.Time) error
}

type Conversations interface {
	CreateConversation(ctx context.Context, c model.Conversation) error
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
}

type Members interface {
	AddMember(ctx context.Context, m model.Membership) error
	GetMember(ctx context.Context, conversationID, userID string) (model.Membership, error)
	ListMembers(ctx context.Context, conversationID string) ([]model.Membership, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	RemoveMember(ctx context.Context, conversationID, userID string) error
	SetRole(ctx context.Context, conversationID, userID string, role model.Role) error
	CountRole(ctx context.Context, conversationID string, role model.Role) (int, error)
	// SetLastRead moves the pointer forward only.
	SetLastRead(ctx context.Context, conversationID, userID string, messageID int64) error
}

type Messages interface {
	CreateMessage(ctx context.Context, m model.Message) error
	GetMessage(ctx context.Context, id int64) (model.Message, error)
	UpdateMessage(ctx context.Context, m model.Message) error
	// ListMessages pages backwards from before (exclusive, 0 for newest).
	ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error)
	// MessageIDsUpTo returns non-deleted ids in ascending order, up to and
	// including upTo. upTo 0 means every message.
	MessageIDsUpTo(ctx context.Context, conversationID string, upTo int64) ([]int64, error)
	// CountMessagesSince counts non-deleted messages not written by
	// excludeAuthor and created after since. A zero since counts all.
	CountMessagesSince(ctx context.Context, conversationID, excludeAuthor string, since time.Time) (int, error)
}

type Receipts interface {
	// UpsertReceipt creates or advances a receipt. An upsert that would not
	// move the status forward is ignored and reports false.
	UpsertReceipt(ctx context.Context, r model.Receipt) (bool, error)
	ListReceipts(ctx context.Context, messageID int64) ([]model.Receipt, error)
}

type Reactions interface {
	GetReaction(ctx context.Context, messageID int64, userID, emoji string) (model.Reaction, error)
	CreateReaction(ctx context.Context, r model.Reaction) error
	DeleteReaction(ctx context.Context, messageID int64, userID, emoji string) error
	// ListReactions returns reactions in creation order.
	ListReactions(ctx context.Context, messageID int64) ([]model.Reaction, error)
}

type Moderation interface {
	AppendAction(ctx context.Context, a model.ModerationAction) error
	// ListActions returns actions newest first. An empty userID matches every
	// target; no kinds matches every kind.
	ListActions(ctx context.Context, conversationID, userID string, kinds ...model.ModerationKind) ([]model.ModerationAction, error)
	GetBan(ctx context.Context, conversationID, userID string) (model.ChannelBan, error)
	// CreateBan writes the ban and its audit record atomically.
	CreateBan(ctx context.Context, b model.ChannelBan, audit model.ModerationAction) error
	// DeleteBan removes the ban and writes its audit record atomically.
	DeleteBan(ctx context.Context, conversationID, userID string, audit model.ModerationAction) error
}

type Notifications interface {
	CreateNotifications(ctx context.Context, ns []model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
}

type Invitations interface {
	// CreateInvitation conflicts while a PENDING invitation exists for the
	// same (conversation, recipient); answered ones are replaced.
	CreateInvitation(ctx context.Context, inv model.Invitation) error
	GetInvitation(ctx context.Context, id string) (model.Invitation, error)
	SetInvitationStatus(ctx context.Context, id string, status model.InvitationStatus) error
}

// Store is the full repository port.
type Store interface {
	Users
	Conversations
	Members
	Messages
	Receipts
	Reactions
	Moderation
	Notifications
	Invitations
}
