// Package memstore is an in-memory store.Store used by tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/store"
)

var _ store.Store = (*Store)(nil)

type memberKey struct{ conversationID, userID string }

type receiptKey struct {
	messageID int64
	userID    string
}

type reactionKey struct {
	messageID int64
	userID    string
	emoji     string
}

type Store struct {
	mu sync.RWMutex

	users         map[string]model.Identity
	conversations map[string]model.Conversation
	members       map[memberKey]model.Membership
	messages      map[int64]model.Message
	receipts      map[receiptKey]model.Receipt
	reactions     map[reactionKey]model.Reaction
	reactionSeq   map[reactionKey]int64
	seq           int64
	actions       []model.ModerationAction
	bans          map[memberKey]model.ChannelBan
	notifications []model.Notification
	invitations   map[string]model.Invitation
}

func New() *Store {
	return &Store{
		users:         make(map[string]model.Identity),
		conversations: make(map[string]model.Conversation),
		members:       make(map[memberKey]model.Membership),
		messages:      make(map[int64]model.Message),
		receipts:      make(map[receiptKey]model.Receipt),
		reactions:     make(map[reactionKey]model.Reaction),
		reactionSeq:   make(map[reactionKey]int64),
		bans:          make(map[memberKey]model.ChannelBan),
		invitations:   make(map[string]model.Invitation),
	}
}

// Users

func (s *Store) CreateUser(_ context.Context, u model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return apperr.Conflict("user already exists")
	}
	if u.Status == "" {
		u.Status = model.StatusOffline
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.Identity{}, apperr.NotFound("user not found")
	}
	return u, nil
}

func (s *Store) SetPresence(_ context.Context, id string, status model.PresenceStatus, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	u.Status = status
	u.LastSeenAt = lastSeen
	s.users[id] = u
	return nil
}

// Conversations

func (s *Store) CreateConversation(_ context.Context, c model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return apperr.Conflict("conversation already exists")
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, apperr.NotFound("conversation not found")
	}
	return c, nil
}

// Members

func (s *Store) AddMember(_ context.Context, m model.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{m.ConversationID, m.UserID}
	if _, ok := s.members[k]; ok {
		return apperr.Conflict("already a member")
	}
	s.members[k] = m
	return nil
}

func (s *Store) GetMember(_ context.Context, conversationID, userID string) (model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberKey{conversationID, userID}]
	if !ok {
		return model.Membership{}, apperr.NotFound("membership not found")
	}
	return m, nil
}

func (s *Store) ListMembers(_ context.Context, conversationID string) ([]model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Membership
	for k, m := range s.members {
		if k.conversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) ConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.members {
		if k.userID == userID {
			out = append(out, k.conversationID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) RemoveMember(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{conversationID, userID}
	if _, ok := s.members[k]; !ok {
		return apperr.NotFound("membership not found")
	}
	delete(s.members, k)
	return nil
}

func (s *Store) SetRole(_ context.Context, conversationID, userID string, role model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{conversationID, userID}
	m, ok := s.members[k]
	if !ok {
		return apperr.NotFound("membership not found")
	}
	m.Role = role
	s.members[k] = m
	return nil
}

func (s *Store) CountRole(_ context.Context, conversationID string, role model.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, m := range s.members {
		if k.conversationID == conversationID && m.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *Store) SetLastRead(_ context.Context, conversationID, userID string, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{conversationID, userID}
	m, ok := s.members[k]
	if !ok {
		return apperr.NotFound("membership not found")
	}
	if messageID > m.LastReadMessageID {
		m.LastReadMessageID = messageID
		s.members[k] = m
	}
	return nil
}

// Messages

func (s *Store) CreateMessage(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return apperr.Conflict("message already exists")
	}
	s.messages[m.ID] = m
	return nil
}

func (s *Store) GetMessage(_ context.Context, id int64) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, apperr.NotFound("message not found")
	}
	return m, nil
}

func (s *Store) UpdateMessage(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return apperr.NotFound("message not found")
	}
	s.messages[m.ID] = m
	return nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if before != 0 && m.ID >= before {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MessageIDsUpTo(_ context.Context, conversationID string, upTo int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, m := range s.messages {
		if m.ConversationID != conversationID || m.Deleted() {
			continue
		}
		if upTo != 0 && id > upTo {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) CountMessagesSince(_ context.Context, conversationID, excludeAuthor string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.Deleted() || m.AuthorID == excludeAuthor {
			continue
		}
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		n++
	}
	return n, nil
}

// Receipts

func (s *Store) UpsertReceipt(_ context.Context, r model.Receipt) (bool, error) {
	if !r.Status.Valid() {
		return false, apperr.Validation("invalid receipt status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := receiptKey{r.MessageID, r.UserID}
	if cur, ok := s.receipts[k]; ok && !cur.Status.Advances(r.Status) {
		return false, nil
	}
	if r.Status != model.ReceiptRead {
		r.SeenAt = nil
	}
	s.receipts[k] = r
	return true, nil
}

func (s *Store) ListReceipts(_ context.Context, messageID int64) ([]model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Receipt
	for k, r := range s.receipts {
		if k.messageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Reactions

func (s *Store) GetReaction(_ context.Context, messageID int64, userID, emoji string) (model.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reactions[reactionKey{messageID, userID, emoji}]
	if !ok {
		return model.Reaction{}, apperr.NotFound("reaction not found")
	}
	return r, nil
}

func (s *Store) CreateReaction(_ context.Context, r model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := reactionKey{r.MessageID, r.UserID, r.Emoji}
	if _, ok := s.reactions[k]; ok {
		return apperr.Conflict("reaction already exists")
	}
	s.seq++
	s.reactions[k] = r
	s.reactionSeq[k] = s.seq
	return nil
}

func (s *Store) DeleteReaction(_ context.Context, messageID int64, userID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, ok := s.reactions[k]; !ok {
		return apperr.NotFound("reaction not found")
	}
	delete(s.reactions, k)
	delete(s.reactionSeq, k)
	return nil
}

func (s *Store) ListReactions(_ context.Context, messageID int64) ([]model.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []reactionKey
	for k := range s.reactions {
		if k.messageID == messageID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return s.reactionSeq[keys[i]] < s.reactionSeq[keys[j]] })
	out := make([]model.Reaction, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.reactions[k])
	}
	return out, nil
}

// Moderation

func (s *Store) AppendAction(_ context.Context, a model.ModerationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
	return nil
}

func (s *Store) ListActions(_ context.Context, conversationID, userID string, kinds ...model.ModerationKind) ([]model.ModerationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ModerationAction
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		if a.ConversationID != conversationID {
			continue
		}
		if userID != "" && a.TargetUserID != userID {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, a.Kind) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func containsKind(kinds []model.ModerationKind, k model.ModerationKind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func (s *Store) GetBan(_ context.Context, conversationID, userID string) (model.ChannelBan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bans[memberKey{conversationID, userID}]
	if !ok {
		return model.ChannelBan{}, apperr.NotFound("ban not found")
	}
	return b, nil
}

func (s *Store) CreateBan(_ context.Context, b model.ChannelBan, audit model.ModerationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{b.ConversationID, b.UserID}
	if cur, ok := s.bans[k]; ok && cur.Active(b.CreatedAt) {
		return apperr.Conflict("user is already banned")
	}
	s.bans[k] = b
	s.actions = append(s.actions, audit)
	return nil
}

func (s *Store) DeleteBan(_ context.Context, conversationID, userID string, audit model.ModerationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{conversationID, userID}
	if _, ok := s.bans[k]; !ok {
		return apperr.NotFound("ban not found")
	}
	delete(s.bans, k)
	s.actions = append(s.actions, audit)
	return nil
}

// Notifications

func (s *Store) CreateNotifications(_ context.Context, ns []model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, ns...)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.RecipientID != userID {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, nt := range s.notifications {
		if nt.RecipientID == userID && !nt.Read {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].RecipientID == userID {
			s.notifications[i].Read = true
			return nil
		}
	}
	return apperr.NotFound("notification not found")
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.notifications {
		if s.notifications[i].RecipientID == userID && !s.notifications[i].Read {
			s.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

// Invitations

func (s *Store) CreateInvitation(_ context.Context, inv model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cur := range s.invitations {
		if cur.ConversationID != inv.ConversationID || cur.RecipientID != inv.RecipientID {
			continue
		}
		if cur.Status == model.InvitationPending {
			return apperr.Conflict("invitation already pending")
		}
		delete(s.invitations, id)
	}
	s.invitations[inv.ID] = inv
	return nil
}

func (s *Store) GetInvitation(_ context.Context, id string) (model.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[id]
	if !ok {
		return model.Invitation{}, apperr.NotFound("invitation not found")
	}
	return inv, nil
}

func (s *Store) SetInvitationStatus(_ context.Context, id string, status model.InvitationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return apperr.NotFound("invitation not found")
	}
	inv.Status = status
	s.invitations[id] = inv
	return nil
}
