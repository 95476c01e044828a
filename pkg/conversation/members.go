package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

var errLastOwner = apperr.Conflict("conversation must keep at least one owner")

// ChangeRole sets targetID's role. The actor must outrank the target's
// current role and hold at least the requested role, and the change must
// not remove the conversation's last OWNER.
func (s *Service) ChangeRole(ctx context.Context, actorID, conversationID, targetID string, role model.Role) (model.Membership, error) {
	if !role.Valid() {
		return model.Membership{}, apperr.Validation(fmt.Sprintf("unknown role %q", role))
	}
	if actorID == targetID {
		return model.Membership{}, apperr.Validation("cannot change your own role")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Membership{}, err
	}
	if conv.Kind == model.KindDirect {
		return model.Membership{}, apperr.Validation("direct conversations have no roles")
	}
	actor, err := s.requireMember(ctx, conversationID, actorID)
	if err != nil {
		return model.Membership{}, err
	}
	target, err := s.store.GetMember(ctx, conversationID, targetID)
	if err != nil {
		return model.Membership{}, err
	}
	if !actor.Role.Outranks(target.Role) {
		return model.Membership{}, apperr.Authorization("you must outrank the member to change their role")
	}
	if !actor.Role.AtLeast(role) {
		return model.Membership{}, apperr.Authorization("cannot grant a role above your own")
	}
	if target.Role == role {
		return model.Membership{}, apperr.Conflict(fmt.Sprintf("member already has role %s", role))
	}
	if err := s.guardLastOwner(ctx, conv, target); err != nil {
		return model.Membership{}, err
	}
	if err := s.store.SetRole(ctx, conversationID, targetID, role); err != nil {
		return model.Membership{}, fmt.Errorf("set role: %w", err)
	}
	target.Role = role
	return target, nil
}

// Leave removes userID from a conversation unless they are its last owner.
func (s *Service) Leave(ctx context.Context, userID, conversationID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	m, err := s.requireMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := s.guardLastOwner(ctx, conv, m); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, conversationID, userID)
}

// RemoveMember removes targetID on behalf of an elevated actor who
// outranks them.
func (s *Service) RemoveMember(ctx context.Context, actorID, conversationID, targetID string) error {
	if actorID == targetID {
		return apperr.Validation("use leave to remove yourself")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	actor, err := s.requireMember(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	if !actor.Role.Elevated() {
		return apperr.Authorization("removing members requires ADMIN or OWNER role")
	}
	target, err := s.store.GetMember(ctx, conversationID, targetID)
	if err != nil {
		return err
	}
	if !actor.Role.Outranks(target.Role) {
		return apperr.Authorization("you must outrank the member to remove them")
	}
	if err := s.guardLastOwner(ctx, conv, target); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, conversationID, targetID)
}

// JoinPublic adds userID to a public conversation as MEMBER.
func (s *Service) JoinPublic(ctx context.Context, userID, conversationID string) (model.Membership, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Membership{}, err
	}
	if !conv.Public || conv.Kind == model.KindDirect {
		return model.Membership{}, apperr.Authorization("conversation is not public")
	}
	if err := s.checkNotBanned(ctx, conversationID, userID); err != nil {
		return model.Membership{}, err
	}
	m := model.Membership{ConversationID: conversationID, UserID: userID, Role: model.RoleMember, JoinedAt: s.now()}
	if err := s.store.AddMember(ctx, m); err != nil {
		return model.Membership{}, err
	}
	return m, nil
}

// Invite creates a PENDING invitation for recipientID.
func (s *Service) Invite(ctx context.Context, inviterID, conversationID, recipientID string, expiresAt *time.Time) (model.Invitation, error) {
	if inviterID == recipientID {
		return model.Invitation{}, apperr.Validation("cannot invite yourself")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Invitation{}, err
	}
	if conv.Kind == model.KindDirect {
		return model.Invitation{}, apperr.Validation("cannot invite into a direct conversation")
	}
	inviter, err := s.requireMember(ctx, conversationID, inviterID)
	if err != nil {
		return model.Invitation{}, err
	}
	if conv.Kind == model.KindChannel && !inviter.Role.Elevated() {
		return model.Invitation{}, apperr.Authorization("only admins can invite to a channel")
	}
	if _, err := s.store.GetUser(ctx, recipientID); err != nil {
		return model.Invitation{}, err
	}
	if _, err := s.store.GetMember(ctx, conversationID, recipientID); err == nil {
		return model.Invitation{}, apperr.Conflict("user is already a member")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return model.Invitation{}, err
	}
	if err := s.checkNotBanned(ctx, conversationID, recipientID); err != nil {
		return model.Invitation{}, err
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return model.Invitation{}, apperr.Validation("expiresAt must be in the future")
	}
	inv := model.Invitation{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		InviterID:      inviterID,
		RecipientID:    recipientID,
		Status:         model.InvitationPending,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return model.Invitation{}, err
	}
	return inv, nil
}

// AcceptInvitation joins the recipient to the conversation.
func (s *Service) AcceptInvitation(ctx context.Context, userID, invitationID string) (model.Membership, error) {
	inv, err := s.pendingInvitation(ctx, userID, invitationID)
	if err != nil {
		return model.Membership{}, err
	}
	if err := s.checkNotBanned(ctx, inv.ConversationID, userID); err != nil {
		return model.Membership{}, err
	}
	m := model.Membership{ConversationID: inv.ConversationID, UserID: userID, Role: model.RoleMember, JoinedAt: s.now()}
	if err := s.store.AddMember(ctx, m); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return model.Membership{}, err
	}
	if err := s.store.SetInvitationStatus(ctx, inv.ID, model.InvitationAccepted); err != nil {
		return model.Membership{}, fmt.Errorf("accept invitation: %w", err)
	}
	return s.store.GetMember(ctx, inv.ConversationID, userID)
}

func (s *Service) DeclineInvitation(ctx context.Context, userID, invitationID string) error {
	inv, err := s.pendingInvitation(ctx, userID, invitationID)
	if err != nil {
		return err
	}
	return s.store.SetInvitationStatus(ctx, inv.ID, model.InvitationDeclined)
}

func (s *Service) pendingInvitation(ctx context.Context, userID, invitationID string) (model.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return model.Invitation{}, err
	}
	if inv.RecipientID != userID {
		return model.Invitation{}, apperr.Authorization("invitation belongs to another user")
	}
	if inv.Status != model.InvitationPending {
		return model.Invitation{}, apperr.Conflict("invitation already answered")
	}
	if inv.Expired(s.now()) {
		return model.Invitation{}, apperr.Validation("invitation has expired")
	}
	return inv, nil
}

func (s *Service) checkNotBanned(ctx context.Context, conversationID, userID string) error {
	ban, err := s.guard.ActiveBan(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if ban != nil {
		return apperr.ChannelBan("user is banned from this conversation")
	}
	return nil
}

// guardLastOwner rejects removing or demoting m when m is the only OWNER
// of a non-direct conversation. The owner count is read right before the
// mutation.
func (s *Service) guardLastOwner(ctx context.Context, conv model.Conversation, m model.Membership) error {
	if conv.Kind == model.KindDirect || m.Role != model.RoleOwner {
		return nil
	}
	owners, err := s.store.CountRole(ctx, conv.ID, model.RoleOwner)
	if err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners <= 1 {
		return errLastOwner
	}
	return nil
}
