package memstore

import (
	"context"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// AddUsers registers identities with default display names. Existing ids
// are left untouched.
func (s *Store) AddUsers(ids ...string) {
	for _, id := range ids {
		_ = s.CreateUser(context.Background(), model.Identity{ID: id, DisplayName: id, Status: model.StatusOffline})
	}
}

// AddConversation registers a conversation whose first member is its
// owner; the remaining members join as MEMBER in order.
func (s *Store) AddConversation(id string, kind model.ConversationKind, owner string, members ...string) model.Conversation {
	ctx := context.Background()
	s.AddUsers(append([]string{owner}, members...)...)
	c := model.Conversation{ID: id, Kind: kind, Name: id, OwnerID: owner, CreatedAt: time.Now()}
	_ = s.CreateConversation(ctx, c)

	joined := time.Now()
	_ = s.AddMember(ctx, model.Membership{ConversationID: id, UserID: owner, Role: model.RoleOwner, JoinedAt: joined})
	for i, m := range members {
		_ = s.AddMember(ctx, model.Membership{
			ConversationID: id,
			UserID:         m,
			Role:           model.RoleMember,
			JoinedAt:       joined.Add(time.Duration(i+1) * time.Millisecond),
		})
	}
	return c
}

// UpdateConversation replaces a stored conversation.
func (s *Store) UpdateConversation(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

// Actions returns every audit record in append order.
func (s *Store) Actions() []model.ModerationAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ModerationAction(nil), s.actions...)
}
