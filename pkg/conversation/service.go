// Package conversation holds the message and membership operations shared
// by the realtime gateway and the HTTP API.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/moderation"
	"github.com/mahaj/dupahar-realtime/pkg/store"
)

const (
	MaxTextLength    = 4000
	MaxAttachments   = 10
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

type IDGenerator interface {
	Generate() int64
}

// AttachmentVerifier confirms an uploaded attachment exists.
type AttachmentVerifier interface {
	Exists(ctx context.Context, key string) error
}

// Limiter throttles message sends per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Option func(*Service)

func WithAttachments(v AttachmentVerifier) Option { return func(s *Service) { s.attachments = v } }

func WithLimiter(l Limiter) Option { return func(s *Service) { s.limiter = l } }

type Service struct {
	store       store.Store
	ids         IDGenerator
	guard       *moderation.Checker
	attachments AttachmentVerifier
	limiter     Limiter
	log         *slog.Logger
	now         func() time.Time
}

func NewService(s store.Store, ids IDGenerator, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	svc := &Service{
		store: s,
		ids:   ids,
		guard: moderation.NewChecker(s),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

type SendInput struct {
	ConversationID string   `json:"conversationId"`
	Text           string   `json:"text"`
	ReplyToID      int64    `json:"replyToId,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
}

// SendMessage validates and stores a new message from authorID.
func (s *Service) SendMessage(ctx context.Context, authorID string, in SendInput) (model.Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Attachments) == 0 {
		return model.Message{}, apperr.Validation("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return model.Message{}, apperr.Validation(fmt.Sprintf("text exceeds %d characters", MaxTextLength))
	}
	if len(in.Attachments) > MaxAttachments {
		return model.Message{}, apperr.Validation(fmt.Sprintf("at most %d attachments", MaxAttachments))
	}

	conv, err := s.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return model.Message{}, err
	}
	member, err := s.requireMember(ctx, conv.ID, authorID)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.checkCanPost(ctx, conv, member); err != nil {
		return model.Message{}, err
	}
	if in.ReplyToID != 0 {
		parent, err := s.store.GetMessage(ctx, in.ReplyToID)
		if err != nil {
			return model.Message{}, err
		}
		if parent.ConversationID != conv.ID {
			return model.Message{}, apperr.Validation("reply target belongs to another conversation")
		}
	}
	if len(in.Attachments) > 0 {
		if s.attachments == nil {
			return model.Message{}, apperr.Validation("attachments are not supported")
		}
		for _, key := range in.Attachments {
			if err := s.attachments.Exists(ctx, key); err != nil {
				return model.Message{}, err
			}
		}
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "send:"+authorID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", "user", authorID, "error", err)
		} else if !ok {
			return model.Message{}, apperr.Validation("sending too fast, slow down")
		}
	}

	now := s.now()
	msg := model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conv.ID,
		AuthorID:       authorID,
		Text:           text,
		ReplyToID:      in.ReplyToID,
		Attachments:    in.Attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// EditMessage replaces the text of authorID's own message.
func (s *Service) EditMessage(ctx context.Context, authorID string, messageID int64, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, apperr.Validation("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return model.Message{}, apperr.Validation(fmt.Sprintf("text exceeds %d characters", MaxTextLength))
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if msg.AuthorID != authorID {
		return model.Message{}, apperr.Authorization("only the author can edit a message")
	}
	if msg.Deleted() {
		return model.Message{}, apperr.Validation("cannot edit a deleted message")
	}
	if _, err := s.requireMember(ctx, msg.ConversationID, authorID); err != nil {
		return model.Message{}, err
	}
	if err := s.checkNotSilenced(ctx, msg.ConversationID, authorID); err != nil {
		return model.Message{}, err
	}
	msg.Text = text
	msg.Edited = true
	msg.UpdatedAt = s.now()
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("update message: %w", err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message. The author, while still a member,
// or an elevated member may delete; deleting an already deleted message
// returns it unchanged.
func (s *Service) DeleteMessage(ctx context.Context, actorID string, messageID int64) (model.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	m, err := s.requireMember(ctx, msg.ConversationID, actorID)
	if err != nil {
		return model.Message{}, err
	}
	if msg.AuthorID != actorID {
		if !m.Role.Elevated() {
			return model.Message{}, apperr.Authorization("only the author or an admin can delete a message")
		}
	}
	if msg.Deleted() {
		return msg, nil
	}
	now := s.now()
	msg.Text = model.DeletedPlaceholder
	msg.Attachments = nil
	msg.DeletedAt = &now
	msg.UpdatedAt = now
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return msg, nil
}

// Messages pages a conversation's history for a member, newest first.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, before int64, limit int) ([]model.Message, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return s.store.ListMessages(ctx, conversationID, before, limit)
}

// ConversationOf returns the conversation a message belongs to. It does not
// check access.
func (s *Service) ConversationOf(ctx context.Context, messageID int64) (string, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	return msg.ConversationID, nil
}

// Message returns a single message visible to a member.
func (s *Service) Message(ctx context.Context, userID string, messageID int64) (model.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := s.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// Conversation returns a conversation and the caller's membership in it.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (model.Conversation, model.Membership, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Conversation{}, model.Membership{}, err
	}
	m, err := s.requireMember(ctx, conversationID, userID)
	if err != nil {
		return model.Conversation{}, model.Membership{}, err
	}
	return conv, m, nil
}

// Joined pairs a conversation with the caller's membership in it.
type Joined struct {
	Conversation model.Conversation
	Membership   model.Membership
}

// List returns every conversation userID belongs to, in id order.
func (s *Service) List(ctx context.Context, userID string) ([]Joined, error) {
	ids, err := s.store.ConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Joined, 0, len(ids))
	for _, id := range ids {
		conv, m, err := s.Conversation(ctx, userID, id)
		if err != nil {
			// Membership can change between the two reads.
			if apperr.KindOf(err) == apperr.KindAuthorization || errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, Joined{Conversation: conv, Membership: m})
	}
	return out, nil
}

// Members lists a conversation's members for one of them.
func (s *Service) Members(ctx context.Context, userID, conversationID string) ([]model.Membership, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, conversationID)
}

func (s *Service) checkCanPost(ctx context.Context, conv model.Conversation, m model.Membership) error {
	if err := s.checkNotSilenced(ctx, conv.ID, m.UserID); err != nil {
		return err
	}
	if conv.ReadOnly && !m.Role.Elevated() {
		return apperr.Authorization("only admins can post in this channel")
	}
	return nil
}

// checkNotSilenced rejects writes from banned or muted members.
func (s *Service) checkNotSilenced(ctx context.Context, conversationID, userID string) error {
	ban, err := s.guard.ActiveBan(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if ban != nil {
		return apperr.ChannelBan("you are banned from this conversation")
	}
	mute, err := s.guard.ActiveMute(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if mute != nil {
		if mute.ExpiresAt != nil {
			return apperr.Authorization(fmt.Sprintf("you are muted until %s", mute.ExpiresAt.UTC().Format(time.RFC3339)))
		}
		return apperr.Authorization("you are muted in this conversation")
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, conversationID, userID string) (model.Membership, error) {
	m, err := s.store.GetMember(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.Membership{}, apperr.Authorization("not a member of this conversation")
		}
		return model.Membership{}, err
	}
	return m, nil
}
