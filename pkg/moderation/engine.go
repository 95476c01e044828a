// Package moderation applies moderation actions and keeps their audit
// trail.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const maxReasonLen = 500

type Store interface {
	RestrictionStore
	GetUser(ctx context.Context, id string) (model.Identity, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	GetMember(ctx context.Context, conversationID, userID string) (model.Membership, error)
	GetMessage(ctx context.Context, id int64) (model.Message, error)
	AppendAction(ctx context.Context, a model.ModerationAction) error
	CreateBan(ctx context.Context, b model.ChannelBan, audit model.ModerationAction) error
	DeleteBan(ctx context.Context, conversationID, userID string, audit model.ModerationAction) error
}

// MessageDeleter soft-deletes a message on behalf of actorID.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, actorID string, messageID int64) (model.Message, error)
}

// RoleChanger changes a member's role on behalf of actorID.
type RoleChanger interface {
	ChangeRole(ctx context.Context, actorID, conversationID, targetID string, role model.Role) (model.Membership, error)
}

type Request struct {
	ActorID        string               `json:"-"`
	ConversationID string               `json:"conversationId"`
	Action         model.ModerationKind `json:"action"`
	TargetUserID   string               `json:"targetUserId,omitempty"`
	MessageID      int64                `json:"messageId,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	ExpiresAt      *time.Time           `json:"expiresAt,omitempty"`
}

// Outcome is the result of an applied action. Message or Membership is set
// when the action delegated to the message or role path.
type Outcome struct {
	Action     model.ModerationAction `json:"action"`
	Message    *model.Message         `json:"message,omitempty"`
	Membership *model.Membership      `json:"membership,omitempty"`
}

type Engine struct {
	*Checker
	store    Store
	messages MessageDeleter
	roles    RoleChanger
	log      *slog.Logger
}

func NewEngine(store Store, messages MessageDeleter, roles RoleChanger, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Checker:  NewChecker(store),
		store:    store,
		messages: messages,
		roles:    roles,
		log:      log,
	}
}

// Apply authorizes and executes a moderation request.
func (e *Engine) Apply(ctx context.Context, req Request) (Outcome, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) > maxReasonLen {
		return Outcome{}, apperr.Validation("reason is too long")
	}
	if _, err := e.store.GetConversation(ctx, req.ConversationID); err != nil {
		return Outcome{}, err
	}
	actor, err := e.store.GetMember(ctx, req.ConversationID, req.ActorID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Outcome{}, apperr.Authorization("not a member of this conversation")
		}
		return Outcome{}, err
	}
	if !actor.Role.Elevated() {
		return Outcome{}, apperr.Authorization("moderation requires ADMIN or OWNER role")
	}

	switch req.Action {
	case model.ActionBan:
		return e.ban(ctx, actor, req)
	case model.ActionUnban:
		return e.unban(ctx, req)
	case model.ActionMute, model.ActionUnmute:
		return e.mute(ctx, actor, req)
	case model.ActionDeleteMessage:
		return e.deleteMessage(ctx, req)
	case model.ActionMakeAdmin:
		return e.changeRole(ctx, req, model.RoleAdmin)
	case model.ActionRemoveAdmin:
		return e.changeRole(ctx, req, model.RoleMember)
	case model.ActionKick, model.ActionPinMessage:
		return Outcome{}, apperr.NotImplemented(fmt.Sprintf("%s is not yet implemented", req.Action))
	default:
		return Outcome{}, apperr.Validation(fmt.Sprintf("unknown moderation action %q", req.Action))
	}
}

// GetActiveMute is ActiveMute under the name callers use.
func (e *Engine) GetActiveMute(ctx context.Context, userID, conversationID string) (*model.ModerationAction, error) {
	return e.ActiveMute(ctx, userID, conversationID)
}

// History lists the conversation's audit trail, newest first. Only
// elevated members may read it.
func (e *Engine) History(ctx context.Context, actorID, conversationID string) ([]model.ModerationAction, error) {
	actor, err := e.store.GetMember(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Authorization("not a member of this conversation")
		}
		return nil, err
	}
	if !actor.Role.Elevated() {
		return nil, apperr.Authorization("moderation requires ADMIN or OWNER role")
	}
	return e.store.ListActions(ctx, conversationID, "")
}

func (e *Engine) ban(ctx context.Context, actor model.Membership, req Request) (Outcome, error) {
	if err := e.checkTarget(ctx, actor, req, true); err != nil {
		return Outcome{}, err
	}
	now := e.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return Outcome{}, apperr.Validation("expiresAt must be in the future")
	}
	existing, err := e.ActiveBan(ctx, req.ConversationID, req.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		return Outcome{}, apperr.Conflict("user is already banned")
	}
	audit := e.record(req, now)
	ban := model.ChannelBan{
		ConversationID: req.ConversationID,
		UserID:         req.TargetUserID,
		BannedBy:       req.ActorID,
		Reason:         req.Reason,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
	}
	if err := e.store.CreateBan(ctx, ban, audit); err != nil {
		return Outcome{}, err
	}
	e.log.Info("user banned", "conversation", req.ConversationID, "target", req.TargetUserID, "actor", req.ActorID)
	return Outcome{Action: audit}, nil
}

func (e *Engine) unban(ctx context.Context, req Request) (Outcome, error) {
	if req.TargetUserID == "" {
		return Outcome{}, apperr.Validation("targetUserId is required")
	}
	if _, err := e.store.GetBan(ctx, req.ConversationID, req.TargetUserID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Outcome{}, apperr.NotFound("user is not banned")
		}
		return Outcome{}, err
	}
	audit := e.record(req, e.now().UTC())
	audit.ExpiresAt = nil
	if err := e.store.DeleteBan(ctx, req.ConversationID, req.TargetUserID, audit); err != nil {
		return Outcome{}, err
	}
	e.log.Info("user unbanned", "conversation", req.ConversationID, "target", req.TargetUserID, "actor", req.ActorID)
	return Outcome{Action: audit}, nil
}

func (e *Engine) mute(ctx context.Context, actor model.Membership, req Request) (Outcome, error) {
	if err := e.checkTarget(ctx, actor, req, req.Action == model.ActionMute); err != nil {
		return Outcome{}, err
	}
	audit := e.record(req, e.now().UTC())
	if req.Action == model.ActionUnmute {
		audit.ExpiresAt = nil
	}
	if err := e.store.AppendAction(ctx, audit); err != nil {
		return Outcome{}, fmt.Errorf("append %s: %w", req.Action, err)
	}
	return Outcome{Action: audit}, nil
}

func (e *Engine) deleteMessage(ctx context.Context, req Request) (Outcome, error) {
	if req.MessageID == 0 {
		return Outcome{}, apperr.Validation("messageId is required")
	}
	msg, err := e.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return Outcome{}, err
	}
	if msg.ConversationID != req.ConversationID {
		return Outcome{}, apperr.Validation("message does not belong to conversation")
	}
	deleted, err := e.messages.DeleteMessage(ctx, req.ActorID, req.MessageID)
	if err != nil {
		return Outcome{}, err
	}
	req.TargetUserID = msg.AuthorID
	audit := e.record(req, e.now().UTC())
	audit.ExpiresAt = nil
	if err := e.store.AppendAction(ctx, audit); err != nil {
		return Outcome{}, fmt.Errorf("append %s: %w", req.Action, err)
	}
	return Outcome{Action: audit, Message: &deleted}, nil
}

func (e *Engine) changeRole(ctx context.Context, req Request, role model.Role) (Outcome, error) {
	if req.TargetUserID == "" {
		return Outcome{}, apperr.Validation("targetUserId is required")
	}
	if req.TargetUserID == req.ActorID {
		return Outcome{}, apperr.Validation("cannot target yourself")
	}
	m, err := e.roles.ChangeRole(ctx, req.ActorID, req.ConversationID, req.TargetUserID, role)
	if err != nil {
		return Outcome{}, err
	}
	audit := e.record(req, e.now().UTC())
	audit.ExpiresAt = nil
	if err := e.store.AppendAction(ctx, audit); err != nil {
		return Outcome{}, fmt.Errorf("append %s: %w", req.Action, err)
	}
	return Outcome{Action: audit, Membership: &m}, nil
}

// checkTarget validates the target user. When outrank is set and the target
// is a member, the actor must hold a strictly higher role.
func (e *Engine) checkTarget(ctx context.Context, actor model.Membership, req Request, outrank bool) error {
	if req.TargetUserID == "" {
		return apperr.Validation("targetUserId is required")
	}
	if req.TargetUserID == req.ActorID {
		return apperr.Validation("cannot target yourself")
	}
	if _, err := e.store.GetUser(ctx, req.TargetUserID); err != nil {
		return err
	}
	if !outrank {
		return nil
	}
	target, err := e.store.GetMember(ctx, req.ConversationID, req.TargetUserID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if !actor.Role.Outranks(target.Role) {
		return apperr.Authorization("cannot moderate a member with an equal or higher role")
	}
	return nil
}

func (e *Engine) record(req Request, now time.Time) model.ModerationAction {
	return model.ModerationAction{
		ID:             uuid.NewString(),
		Kind:           req.Action,
		ActorID:        req.ActorID,
		TargetUserID:   req.TargetUserID,
		MessageID:      req.MessageID,
		ConversationID: req.ConversationID,
		Reason:         req.Reason,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
	}
}
