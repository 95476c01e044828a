package model

import "time"

type NotificationType string

const (
	NotifyNewMessage NotificationType = "NEW_MESSAGE"
	NotifyMention    NotificationType = "MENTION"
	NotifyReaction   NotificationType = "REACTION"
	NotifyReply      NotificationType = "REPLY"
	NotifyInvite     NotificationType = "INVITE"
	NotifyRoleChange NotificationType = "ROLE_CHANGE"
)

type Notification struct {
	ID             string           `json:"id"`
	RecipientID    string           `json:"recipient_id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	ActorID        string           `json:"actor_id,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	MessageID      int64            `json:"message_id,omitempty"`
	InvitationID   string           `json:"invitation_id,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}
