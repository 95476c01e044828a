package model

import "time"

// DeletedPlaceholder replaces the text of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

type Message struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversation_id"`
	AuthorID       string     `json:"author_id"`
	Text           string     `json:"text"`
	ReplyToID      int64      `json:"reply_to_id,omitempty"`
	Attachments    []string   `json:"attachments,omitempty"`
	Edited         bool       `json:"edited"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (m Message) Deleted() bool { return m.DeletedAt != nil }

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
