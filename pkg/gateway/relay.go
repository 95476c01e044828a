package gateway

import (
	"context"

	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/events"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// Relay returns an event log handler that delivers broadcasts published by
// other processes, such as the api, to this hub's connections. Records
// carrying origin were delivered locally when they were published.
func (h *Hub) Relay(origin string) events.Handler {
	return func(ctx context.Context, r events.Record) error {
		if r.Origin == origin {
			return nil
		}
		if r.User != "" {
			return h.ToUser(ctx, r.User, r.Event, r.Payload)
		}

		// Live connections follow membership changes made elsewhere.
		switch r.Event {
		case model.EventMemberJoined, model.EventMemberLeft:
			ev, err := events.Decode[chat.MemberEvent](r)
			if err != nil {
				return err
			}
			if r.Event == model.EventMemberJoined {
				h.JoinUser(ctx, ev.UserID, ev.ConversationID)
			} else {
				h.LeaveUser(ev.UserID, ev.ConversationID)
			}
		}
		return h.ToRoom(ctx, r.Room, r.Event, r.Payload)
	}
}
