// Package chat is the one call path behind both the websocket gateway and
// the HTTP API. Every action runs the domain operation, then broadcasts the
// result and fans out notifications, so the two entry points cannot drift.
package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/broadcast"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/moderation"
	"github.com/mahaj/dupahar-realtime/pkg/notification"
	"github.com/mahaj/dupahar-realtime/pkg/reaction"
	"github.com/mahaj/dupahar-realtime/pkg/receipt"
	"github.com/mahaj/dupahar-realtime/pkg/store"
)

// Rooms keeps live subscriptions in step with membership changes. The
// gateway hub implements it.
type Rooms interface {
	JoinUser(ctx context.Context, userID, conversationID string)
	LeaveUser(userID, conversationID string)
}

type noRooms struct{}

func (noRooms) JoinUser(context.Context, string, string) {}
func (noRooms) LeaveUser(string, string)                  {}

type Deps struct {
	Conversations *conversation.Service
	Receipts      *receipt.Aggregator
	Reactions     *reaction.Toggler
	Moderation    *moderation.Engine
	Notifications *notification.Fanout
	Out           broadcast.Broadcaster
	Log           *slog.Logger
}

type Service struct {
	convs    *conversation.Service
	receipts *receipt.Aggregator
	reacts   *reaction.Toggler
	mod      *moderation.Engine
	notify   *notification.Fanout
	out      broadcast.Broadcaster
	rooms    Rooms
	seq      *sequencer
	log      *slog.Logger
}

func New(d Deps) *Service {
	if d.Out == nil {
		d.Out = broadcast.Discard{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		convs:    d.Conversations,
		receipts: d.Receipts,
		reacts:   d.Reactions,
		mod:      d.Moderation,
		notify:   d.Notifications,
		out:      d.Out,
		rooms:    noRooms{},
		seq:      newSequencer(),
		log:      d.Log,
	}
}

// Assemble builds every domain component over one repository.
func Assemble(st store.Store, ids conversation.IDGenerator, out broadcast.Broadcaster, log *slog.Logger, opts ...conversation.Option) *Service {
	convs := conversation.NewService(st, ids, log, opts...)
	return New(Deps{
		Conversations: convs,
		Receipts:      receipt.NewAggregator(st),
		Reactions:     reaction.NewToggler(st),
		Moderation:    moderation.NewEngine(st, convs, convs, log),
		Notifications: notification.NewFanout(st, log),
		Out:           out,
		Log:           log,
	})
}

// SetBroadcaster swaps the outbound sink. The gateway hub is built after
// the service, so binaries set it once during wiring.
func (s *Service) SetBroadcaster(out broadcast.Broadcaster) { s.out = out }

func (s *Service) SetRooms(r Rooms) { s.rooms = r }

// MessageRef identifies a message in delete broadcasts.
type MessageRef struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

type Count struct {
	Count int `json:"count"`
}

func (s *Service) SendMessage(ctx context.Context, userID string, in conversation.SendInput) (model.Message, error) {
	unlock := s.seq.lock(in.ConversationID)
	msg, err := s.convs.SendMessage(ctx, userID, in)
	if err != nil {
		unlock()
		return model.Message{}, err
	}
	if _, err := s.receipts.CreateForRecipients(ctx, msg.ID, msg.ConversationID, userID); err != nil {
		s.log.Error("create receipts failed", "message", msg.ID, "conversation", msg.ConversationID, "error", err)
	}
	s.toRoom(ctx, msg.ConversationID, model.EventMessageNew, msg)
	unlock()

	c := notification.Context{MessageID: msg.ID, Text: msg.Text}
	notified, err := s.notify.ForMembers(ctx, msg.ConversationID, userID, model.NotifyNewMessage, c)
	if err != nil {
		s.log.Error("notification fan-out failed", "message", msg.ID, "error", err)
	}
	s.push(ctx, notified...)

	if msg.ReplyToID != 0 {
		if parent, err := s.convs.Message(ctx, userID, msg.ReplyToID); err == nil {
			s.notifyOne(ctx, parent.AuthorID, userID, msg.ConversationID, model.NotifyReply, c)
		}
	}
	for _, target := range mentions(msg.Text) {
		s.notifyOne(ctx, target, userID, msg.ConversationID, model.NotifyMention, c)
	}
	return msg, nil
}

func (s *Service) EditMessage(ctx context.Context, userID string, messageID int64, text string) (model.Message, error) {
	convID, err := s.convs.ConversationOf(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	defer s.seq.lock(convID)()

	msg, err := s.convs.EditMessage(ctx, userID, messageID, text)
	if err != nil {
		return model.Message{}, err
	}
	s.toRoom(ctx, msg.ConversationID, model.EventMessageUpdated, msg)
	return msg, nil
}

func (s *Service) DeleteMessage(ctx context.Context, userID string, messageID int64) (model.Message, error) {
	convID, err := s.convs.ConversationOf(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	defer s.seq.lock(convID)()

	msg, err := s.convs.DeleteMessage(ctx, userID, messageID)
	if err != nil {
		return model.Message{}, err
	}
	s.toRoom(ctx, msg.ConversationID, model.EventMessageDeleted, MessageRef{ConversationID: msg.ConversationID, MessageID: msg.ID})
	return msg, nil
}

func (s *Service) Messages(ctx context.Context, userID, conversationID string, before int64, limit int) ([]model.Message, error) {
	return s.convs.Messages(ctx, userID, conversationID, before, limit)
}

func (s *Service) ToggleReaction(ctx context.Context, userID string, messageID int64, emoji string) (reaction.Result, error) {
	msg, err := s.convs.Message(ctx, userID, messageID)
	if err != nil {
		return reaction.Result{}, err
	}
	res, err := s.reacts.Toggle(ctx, userID, msg.ID, emoji)
	if err != nil {
		return reaction.Result{}, err
	}
	s.toRoom(ctx, res.ConversationID, model.EventReactionUpdated, res)
	if res.Action == reaction.Added {
		s.notifyOne(ctx, res.AuthorID, userID, res.ConversationID, model.NotifyReaction,
			notification.Context{MessageID: res.MessageID, Emoji: res.Emoji})
	}
	return res, nil
}

func (s *Service) Reactions(ctx context.Context, userID string, messageID int64) ([]reaction.Group, error) {
	if _, err := s.convs.Message(ctx, userID, messageID); err != nil {
		return nil, err
	}
	return s.reacts.GetForMessage(ctx, messageID)
}

// MarkRead broadcasts a bulk receipt update when anything changed.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string, upTo int64) (receipt.ReadResult, error) {
	res, err := s.receipts.MarkRead(ctx, conversationID, userID, upTo)
	if err != nil {
		return receipt.ReadResult{}, err
	}
	if res.MessagesAffected > 0 {
		s.toRoom(ctx, conversationID, model.EventReceiptUpdate, receipt.BulkUpdate{
			ConversationID:   conversationID,
			UserID:           userID,
			Status:           model.ReceiptRead,
			UpToMessageID:    res.LastMessageID,
			MessagesAffected: res.MessagesAffected,
			SeenAt:           nowUTC(),
		})
	}
	return res, nil
}

// MarkDelivered broadcasts only when the receipt moved forward.
// conversationID is optional; when given it must match the message.
func (s *Service) MarkDelivered(ctx context.Context, userID string, messageID int64, conversationID string) (receipt.Update, error) {
	if conversationID != "" {
		msg, err := s.convs.Message(ctx, userID, messageID)
		if err != nil {
			return receipt.Update{}, err
		}
		if msg.ConversationID != conversationID {
			return receipt.Update{}, apperr.Validation("message does not belong to conversation")
		}
	}
	up, changed, err := s.receipts.MarkDelivered(ctx, messageID, userID)
	if err != nil {
		return receipt.Update{}, err
	}
	if changed {
		s.toRoom(ctx, up.ConversationID, model.EventReceiptUpdate, up)
	}
	return up, nil
}

func (s *Service) ReceiptStats(ctx context.Context, userID string, messageID int64) (receipt.Stats, error) {
	if _, err := s.convs.Message(ctx, userID, messageID); err != nil {
		return receipt.Stats{}, err
	}
	return s.receipts.GetStats(ctx, messageID)
}

func (s *Service) UnreadMessages(ctx context.Context, userID, conversationID string) (int, error) {
	return s.receipts.GetUnreadCount(ctx, conversationID, userID)
}

// Moderate applies a moderation request on behalf of actorID.
func (s *Service) Moderate(ctx context.Context, actorID string, req moderation.Request) (moderation.Outcome, error) {
	req.ActorID = actorID
	if req.Action == model.ActionDeleteMessage {
		unlock := s.seq.lock(req.ConversationID)
		defer unlock()
	}
	out, err := s.mod.Apply(ctx, req)
	if err != nil {
		return moderation.Outcome{}, err
	}
	s.toRoom(ctx, req.ConversationID, model.EventModerationUpdated, out.Action)

	switch req.Action {
	case model.ActionDeleteMessage:
		if out.Message != nil {
			s.toRoom(ctx, req.ConversationID, model.EventMessageDeleted, MessageRef{ConversationID: req.ConversationID, MessageID: out.Message.ID})
		}
	case model.ActionMakeAdmin, model.ActionRemoveAdmin:
		if out.Membership != nil {
			s.notifyOne(ctx, out.Membership.UserID, actorID, req.ConversationID, model.NotifyRoleChange,
				notification.Context{Role: out.Membership.Role})
		}
	case model.ActionBan, model.ActionMute:
		s.toUser(ctx, req.TargetUserID, model.EventModerationUpdated, out.Action)
	}
	return out, nil
}

func (s *Service) ActiveMute(ctx context.Context, userID, conversationID string) (*model.ModerationAction, error) {
	return s.mod.GetActiveMute(ctx, userID, conversationID)
}

func (s *Service) ModerationHistory(ctx context.Context, actorID, conversationID string) ([]model.ModerationAction, error) {
	return s.mod.History(ctx, actorID, conversationID)
}

func (s *Service) Notifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return s.notify.List(ctx, userID, limit)
}

func (s *Service) UnreadNotifications(ctx context.Context, userID string) (int, error) {
	return s.notify.UnreadCount(ctx, userID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) (int, error) {
	count, err := s.notify.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return 0, err
	}
	s.toUser(ctx, userID, model.EventNotificationCounted, Count{Count: count})
	return count, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	changed, err := s.notify.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.toUser(ctx, userID, model.EventNotificationCounted, Count{Count: 0})
	return changed, nil
}

// notifyOne writes and pushes a single notification; failures only log.
func (s *Service) notifyOne(ctx context.Context, recipientID, actorID, conversationID string, typ model.NotificationType, c notification.Context) {
	if recipientID == "" {
		return
	}
	n, err := s.notify.ForUser(ctx, recipientID, actorID, conversationID, typ, c)
	if err != nil {
		s.log.Error("notification failed", "type", typ, "recipient", recipientID, "error", err)
		return
	}
	if n != nil {
		s.push(ctx, *n)
	}
}

func (s *Service) push(ctx context.Context, ns ...model.Notification) {
	for _, n := range ns {
		s.toUser(ctx, n.RecipientID, model.EventNotificationNew, n)
		count, err := s.notify.UnreadCount(ctx, n.RecipientID)
		if err != nil {
			s.log.Warn("unread notification count failed", "user", n.RecipientID, "error", err)
			continue
		}
		s.toUser(ctx, n.RecipientID, model.EventNotificationCounted, Count{Count: count})
	}
}

func (s *Service) toRoom(ctx context.Context, room string, event model.EventType, payload any) {
	if err := s.out.ToRoom(ctx, room, event, payload); err != nil {
		s.log.Warn("broadcast failed", "room", room, "event", event, "error", err)
	}
}

func (s *Service) toUser(ctx context.Context, userID string, event model.EventType, payload any) {
	if err := s.out.ToUser(ctx, userID, event, payload); err != nil {
		s.log.Warn("user push failed", "user", userID, "event", event, "error", err)
	}
}

// Unexpected reports whether err should be logged server side rather than
// only returned to the caller.
func Unexpected(err error) bool {
	return err != nil && !apperr.Operational(err) && !errors.Is(err, context.Canceled)
}
