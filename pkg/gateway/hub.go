package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/membership"
	"github.com/mahaj/dupahar-realtime/pkg/metrics"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// Hub routes outbound events to the live connections subscribed to a room.
// It implements broadcast.Broadcaster over the membership registry, so the
// registry stays the only owner of room subscriptions.
type Hub struct {
	registry *membership.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewHub(registry *membership.Registry, m *metrics.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{registry: registry, metrics: m, log: log}
}

func (h *Hub) ToRoom(_ context.Context, room string, event model.EventType, payload any) error {
	frame, err := encodeFrame(event, room, 0, payload)
	if err != nil {
		return err
	}
	h.deliver(h.registry.Connections(room), event, frame)
	return nil
}

func (h *Hub) ToUser(_ context.Context, userID string, event model.EventType, payload any) error {
	frame, err := encodeFrame(event, "", 0, payload)
	if err != nil {
		return err
	}
	h.deliver(h.registry.UserConnections(userID), event, frame)
	return nil
}

// JoinUser subscribes every live connection of userID to a conversation
// they just became a member of. Membership is re-checked per connection.
func (h *Hub) JoinUser(ctx context.Context, userID, conversationID string) {
	for _, conn := range h.registry.UserConnections(userID) {
		if _, err := h.registry.JoinOne(ctx, conn, conversationID); err != nil {
			h.log.Warn("room join failed", "user", userID, "conversation", conversationID, "error", err)
		}
	}
}

func (h *Hub) LeaveUser(userID, conversationID string) {
	for _, conn := range h.registry.UserConnections(userID) {
		h.registry.LeaveOne(conn, conversationID)
	}
}

// CloseUser force-closes every connection of userID. Presence calls it when
// the heartbeat times out.
func (h *Hub) CloseUser(userID string) {
	for _, conn := range h.registry.UserConnections(userID) {
		if c, ok := conn.(*Client); ok {
			c.close(CloseHeartbeatTimeout, "heartbeat timeout")
		}
	}
}

func (h *Hub) attach(c *Client) {
	h.registry.Register(c)
	h.metrics.Connected()
}

func (h *Hub) detach(c *Client) {
	h.registry.LeaveAll(c)
	h.registry.Unregister(c)
	h.metrics.Disconnected()
}

func (h *Hub) deliver(conns []membership.Conn, event model.EventType, frame []byte) {
	n := 0
	for _, conn := range conns {
		c, ok := conn.(*Client)
		if !ok {
			continue
		}
		if c.enqueue(frame) {
			n++
		}
	}
	h.metrics.Broadcast(event, n)
}

func encodeFrame(event model.EventType, room string, ack int64, payload any) ([]byte, error) {
	env := model.Envelope{Event: event, Ack: ack, Room: room, Time: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
