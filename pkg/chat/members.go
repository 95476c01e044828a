package chat

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/notification"
)

// MemberEvent is the payload of member joined/left broadcasts.
type MemberEvent struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	Role           model.Role `json:"role,omitempty"`
}

func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (model.Conversation, model.Membership, error) {
	return s.convs.Conversation(ctx, userID, conversationID)
}

// Summary is one entry of a user's conversation list.
type Summary struct {
	Conversation model.Conversation `json:"conversation"`
	Role         model.Role         `json:"role"`
	UnreadCount  int                `json:"unreadCount"`
}

func (s *Service) ListConversations(ctx context.Context, userID string) ([]Summary, error) {
	joined, err := s.convs.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(joined))
	for _, j := range joined {
		unread, err := s.receipts.GetUnreadCount(ctx, j.Conversation.ID, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{Conversation: j.Conversation, Role: j.Membership.Role, UnreadCount: unread})
	}
	return out, nil
}

func (s *Service) Members(ctx context.Context, userID, conversationID string) ([]model.Membership, error) {
	return s.convs.Members(ctx, userID, conversationID)
}

func (s *Service) JoinPublic(ctx context.Context, userID, conversationID string) (model.Membership, error) {
	m, err := s.convs.JoinPublic(ctx, userID, conversationID)
	if err != nil {
		return model.Membership{}, err
	}
	s.joined(ctx, m)
	return m, nil
}

func (s *Service) Leave(ctx context.Context, userID, conversationID string) error {
	if err := s.convs.Leave(ctx, userID, conversationID); err != nil {
		return err
	}
	s.left(ctx, conversationID, userID)
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, actorID, conversationID, targetID string) error {
	if err := s.convs.RemoveMember(ctx, actorID, conversationID, targetID); err != nil {
		return err
	}
	s.left(ctx, conversationID, targetID)
	return nil
}

func (s *Service) Invite(ctx context.Context, inviterID, conversationID, recipientID string, expiresAt *time.Time) (model.Invitation, error) {
	inv, err := s.convs.Invite(ctx, inviterID, conversationID, recipientID, expiresAt)
	if err != nil {
		return model.Invitation{}, err
	}
	// The recipient is not a member yet, so no conversation membership check.
	s.notifyOne(ctx, recipientID, inviterID, "", model.NotifyInvite, notification.Context{InvitationID: inv.ID})
	return inv, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, userID, invitationID string) (model.Membership, error) {
	m, err := s.convs.AcceptInvitation(ctx, userID, invitationID)
	if err != nil {
		return model.Membership{}, err
	}
	s.joined(ctx, m)
	return m, nil
}

func (s *Service) DeclineInvitation(ctx context.Context, userID, invitationID string) error {
	return s.convs.DeclineInvitation(ctx, userID, invitationID)
}

func (s *Service) joined(ctx context.Context, m model.Membership) {
	s.rooms.JoinUser(ctx, m.UserID, m.ConversationID)
	s.toRoom(ctx, m.ConversationID, model.EventMemberJoined, MemberEvent{ConversationID: m.ConversationID, UserID: m.UserID, Role: m.Role})
}

func (s *Service) left(ctx context.Context, conversationID, userID string) {
	s.rooms.LeaveUser(userID, conversationID)
	ev := MemberEvent{ConversationID: conversationID, UserID: userID}
	s.toRoom(ctx, conversationID, model.EventMemberLeft, ev)
	s.toUser(ctx, userID, model.EventMemberLeft, ev)
}

// mentions returns the distinct user ids written as @id in text.
func mentions(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range strings.Fields(text) {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		id := strings.TrimRightFunc(f[1:], func(r rune) bool {
			return unicode.IsPunct(r) && r != '-' && r != '_'
		})
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func nowUTC() time.Time { return time.Now().UTC() }
