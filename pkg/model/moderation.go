package model

import "time"

type ModerationKind string

const (
	ActionBan           ModerationKind = "BAN"
	ActionUnban         ModerationKind = "UNBAN"
	ActionMute          ModerationKind = "MUTE"
	ActionUnmute        ModerationKind = "UNMUTE"
	ActionDeleteMessage ModerationKind = "DELETE_MESSAGE"
	ActionMakeAdmin     ModerationKind = "MAKE_ADMIN"
	ActionRemoveAdmin   ModerationKind = "REMOVE_ADMIN"
	ActionKick          ModerationKind = "KICK"
	ActionPinMessage    ModerationKind = "PIN_MESSAGE"
)

// ModerationAction is an append-only audit record.
type ModerationAction struct {
	ID             string         `json:"id"`
	Kind           ModerationKind `json:"action"`
	ActorID        string         `json:"actor_id"`
	TargetUserID   string         `json:"target_user_id,omitempty"`
	MessageID      int64          `json:"message_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	Reason         string         `json:"reason,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Expired reports whether a timed action has lapsed at now.
func (a ModerationAction) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

type ChannelBan struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	BannedBy       string     `json:"banned_by"`
	Reason         string     `json:"reason,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Active is false once the ban's expiry has passed.
func (b ChannelBan) Active(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}
