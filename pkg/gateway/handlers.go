package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/moderation"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (any, error)

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type messageRef struct {
	MessageID      int64  `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

type editRequest struct {
	MessageID int64  `json:"messageId"`
	Text      string `json:"text"`
}

type reactionRequest struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type readRequest struct {
	ConversationID string `json:"conversationId"`
	UpToMessageID  int64  `json:"upToMessageId,omitempty"`
}

type listRequest struct {
	Limit int `json:"limit,omitempty"`
}

type notificationRef struct {
	NotificationID string `json:"notificationId"`
}

// RoomResult acknowledges conversation:join and conversation:leave.
type RoomResult struct {
	ConversationID string `json:"conversationId"`
	Joined         bool   `json:"joined"`
}

type HeartbeatResult struct {
	Timestamp time.Time `json:"timestamp"`
}

type UpdatedResult struct {
	Updated int `json:"updated"`
}

func (s *Server) routes() map[model.EventType]handlerFunc {
	return map[model.EventType]handlerFunc{
		model.EventConversationJoin:  s.joinConversation,
		model.EventConversationLeave: s.leaveConversation,
		model.EventMessageSend:       s.sendMessage,
		model.EventMessageEdit:       s.editMessage,
		model.EventMessageDelete:     s.deleteMessage,
		model.EventReactionToggle:    s.toggleReaction,
		model.EventReceiptRead:       s.markRead,
		model.EventReceiptDelivered:  s.markDelivered,
		model.EventHeartbeat:         s.heartbeat,
		model.EventModerationAction:  s.moderate,
		model.EventNotificationList:  s.listNotifications,
		model.EventNotificationCount: s.countNotifications,
		model.EventNotificationRead:  s.markNotificationRead,
		model.EventNotificationAll:   s.markAllNotificationsRead,
	}
}

// dispatch runs one inbound frame and acknowledges it. Domain errors become
// a failed ack; the connection stays open.
func (s *Server) dispatch(c *Client, raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.reply(0, model.EventError, nil, apperr.Validation("malformed frame"))
		return
	}
	h, ok := s.handlers[env.Event]
	if !ok {
		c.reply(env.Ack, env.Event, nil, apperr.Validation(fmt.Sprintf("unknown event %q", env.Event)))
		return
	}

	ctx, cancel := c.context()
	result, err := h(ctx, c, env.Data)
	cancel()

	s.hub.metrics.Event(env.Event, err)
	if chat.Unexpected(err) {
		c.log.Error("handler failed", "event", env.Event, "error", err)
	}
	c.reply(env.Ack, env.Event, result, err)
}

// reply sends the ack for a numbered frame. Unnumbered failures are
// reported as an error event so they are not lost silently.
func (c *Client) reply(ack int64, event model.EventType, result any, err error) {
	var (
		frame []byte
		ferr  error
	)
	switch {
	case ack != 0:
		payload := model.Ack{Success: err == nil, Data: result}
		if err != nil {
			payload.Error = apperr.Message(err)
		}
		frame, ferr = encodeFrame(model.EventAck, "", ack, payload)
	case err != nil:
		frame, ferr = encodeFrame(model.EventError, "", 0, ErrorEvent{Event: event, Error: apperr.Message(err), Kind: apperr.KindOf(err)})
	default:
		return
	}
	if ferr != nil {
		c.log.Error("encode reply failed", "event", event, "error", ferr)
		return
	}
	c.enqueue(frame)
}

// ErrorEvent is the payload of an error frame.
type ErrorEvent struct {
	Event model.EventType `json:"event,omitempty"`
	Error string          `json:"error"`
	Kind  apperr.Kind     `json:"kind"`
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, apperr.Validation("invalid payload: " + err.Error())
	}
	return v, nil
}

func (s *Server) joinConversation(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[conversationRef](data)
	if err != nil {
		return nil, err
	}
	ok, err := s.hub.registry.JoinOne(ctx, c, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Authorization("not a member of this conversation")
	}
	return RoomResult{ConversationID: req.ConversationID, Joined: true}, nil
}

func (s *Server) leaveConversation(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[conversationRef](data)
	if err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, apperr.Validation("conversationId is required")
	}
	s.hub.registry.LeaveOne(c, req.ConversationID)
	return RoomResult{ConversationID: req.ConversationID}, nil
}

func (s *Server) sendMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[conversation.SendInput](data)
	if err != nil {
		return nil, err
	}
	return s.chat.SendMessage(ctx, c.userID, req)
}

func (s *Server) editMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[editRequest](data)
	if err != nil {
		return nil, err
	}
	return s.chat.EditMessage(ctx, c.userID, req.MessageID, req.Text)
}

func (s *Server) deleteMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[messageRef](data)
	if err != nil {
		return nil, err
	}
	return s.chat.DeleteMessage(ctx, c.userID, req.MessageID)
}

func (s *Server) toggleReaction(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[reactionRequest](data)
	if err != nil {
		return nil, err
	}
	return s.chat.ToggleReaction(ctx, c.userID, req.MessageID, req.Emoji)
}

func (s *Server) markRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[readRequest](data)
	if err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, apperr.Validation("conversationId is required")
	}
	return s.chat.MarkRead(ctx, c.userID, req.ConversationID, req.UpToMessageID)
}

func (s *Server) markDelivered(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[messageRef](data)
	if err != nil {
		return nil, err
	}
	return s.chat.MarkDelivered(ctx, c.userID, req.MessageID, req.ConversationID)
}

func (s *Server) heartbeat(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
	if err := s.presence.Heartbeat(ctx, c.userID); err != nil {
		return nil, err
	}
	return HeartbeatResult{Timestamp: time.Now().UTC()}, nil
}

func (s *Server) moderate(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[moderation.Request](data)
	if err != nil {
		return nil, err
	}
	return s.chat.Moderate(ctx, c.userID, req)
}

func (s *Server) listNotifications(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[listRequest](data)
	if err != nil {
		return nil, err
	}
	return s.chat.Notifications(ctx, c.userID, req.Limit)
}

func (s *Server) countNotifications(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
	n, err := s.chat.UnreadNotifications(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return chat.Count{Count: n}, nil
}

func (s *Server) markNotificationRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	req, err := decode[notificationRef](data)
	if err != nil {
		return nil, err
	}
	n, err := s.chat.MarkNotificationRead(ctx, c.userID, req.NotificationID)
	if err != nil {
		return nil, err
	}
	return chat.Count{Count: n}, nil
}

func (s *Server) markAllNotificationsRead(ctx context.Context, c *Client, _ json.RawMessage) (any, error) {
	n, err := s.chat.MarkAllNotificationsRead(ctx, c.userID)
	if err != nil {
		return nil, err
	}
	return UpdatedResult{Updated: n}, nil
}
