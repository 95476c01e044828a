package model

import (
	"encoding/json"
	"time"
)

// EventType names an inbound or outbound realtime event.
type EventType string

// Inbound events.
const (
	EventConversationJoin  EventType = "conversation:join"
	EventConversationLeave EventType = "conversation:leave"
	EventMessageSend       EventType = "message:send"
	EventMessageEdit       EventType = "message:edit"
	EventMessageDelete     EventType = "message:delete"
	EventReactionToggle    EventType = "reaction:toggle"
	EventReceiptRead       EventType = "receipt:read"
	EventReceiptDelivered  EventType = "receipt:delivered"
	EventHeartbeat         EventType = "presence:heartbeat"
	EventModerationAction  EventType = "moderation:action"
	EventNotificationList  EventType = "notification:getAll"
	EventNotificationCount EventType = "notification:getUnreadCount"
	EventNotificationRead  EventType = "notification:markRead"
	EventNotificationAll   EventType = "notification:markAllRead"
)

// Outbound events.
const (
	EventMessageNew          EventType = "message:new"
	EventMessageUpdated      EventType = "message:updated"
	EventMessageDeleted      EventType = "message:deleted"
	EventPresenceUpdate      EventType = "presence:update"
	EventReceiptUpdate       EventType = "receipt:update"
	EventReactionUpdated     EventType = "reaction:updated"
	EventNotificationNew     EventType = "notification:new"
	EventNotificationCounted EventType = "notification:countUpdated"
	EventModerationUpdated   EventType = "moderation:updated"
	EventMemberJoined        EventType = "conversation:memberJoined"
	EventMemberLeft          EventType = "conversation:memberLeft"
	EventAck                 EventType = "ack"
	EventError               EventType = "error"
)

// Envelope is the wire frame for every realtime event. Ack is a client
// chosen correlation number; zero means no acknowledgement is wanted.
type Envelope struct {
	Event EventType       `json:"event"`
	Ack   int64           `json:"ack,omitempty"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Time  time.Time       `json:"timestamp"`
}

// Ack is the payload of an acknowledgement frame.
type Ack struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type PresenceUpdate struct {
	UserID     string         `json:"userId"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
	Timestamp  time.Time      `json:"timestamp"`
}
