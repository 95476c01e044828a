package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/store/memstore"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Generate() int64 { return s.n.Add(1) }

type fakeAttachments map[string]bool

func (f fakeAttachments) Exists(_ context.Context, key string) error {
	if !f[key] {
		return apperr.NotFound("attachment " + key + " not found")
	}
	return nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

func newService(t *testing.T, opts ...Option) (*Service, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.AddConversation("g", model.KindGroup, "alice", "bob", "carol")
	return NewService(s, &seqIDs{}, nil, opts...), s
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (%v)", got, kind, err)
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	msg, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "  hello  "})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Text != "hello" || msg.AuthorID != "bob" || msg.ID == 0 {
		t.Fatalf("message = %+v", msg)
	}

	reply, err := svc.SendMessage(ctx, "carol", SendInput{ConversationID: "g", Text: "hi", ReplyToID: msg.ID})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ReplyToID != msg.ID || reply.ID <= msg.ID {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestSendMessageRejections(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	s.AddConversation("other", model.KindGroup, "dave")
	if err := s.CreateMessage(ctx, model.Message{ID: 900, ConversationID: "other", AuthorID: "dave", Text: "x"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name string
		user string
		in   SendInput
		kind apperr.Kind
	}{
		{"empty text", "bob", SendInput{ConversationID: "g", Text: "   "}, apperr.KindValidation},
		{"missing conversation", "bob", SendInput{ConversationID: "nope", Text: "hi"}, apperr.KindNotFound},
		{"non member", "dave", SendInput{ConversationID: "g", Text: "hi"}, apperr.KindAuthorization},
		{"foreign reply", "bob", SendInput{ConversationID: "g", Text: "hi", ReplyToID: 900}, apperr.KindValidation},
		{"attachments unsupported", "bob", SendInput{ConversationID: "g", Attachments: []string{"a.png"}}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tt.user, tt.in)
			wantKind(t, err, tt.kind)
		})
	}
}

func TestSendMessageAttachmentsAndLimiter(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, WithAttachments(fakeAttachments{"ok.png": true}))

	msg, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Attachments: []string{"ok.png"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %v", msg.Attachments)
	}
	_, err = svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Attachments: []string{"missing.png"}})
	wantKind(t, err, apperr.KindNotFound)

	limited, _ := newService(t, WithLimiter(denyAll{}))
	_, err = limited.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "hi"})
	wantKind(t, err, apperr.KindValidation)
}

func TestReadOnlyChannelRequiresElevatedRole(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	c := s.AddConversation("news", model.KindChannel, "alice", "bob")
	c.ReadOnly = true
	s.UpdateConversation(c)

	_, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "news", Text: "hi"})
	wantKind(t, err, apperr.KindAuthorization)
	if _, err := svc.SendMessage(ctx, "alice", SendInput{ConversationID: "news", Text: "hi"}); err != nil {
		t.Fatalf("owner send: %v", err)
	}
}

func TestBannedAndMutedMembersCannotSend(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	now := time.Now()

	ban := model.ChannelBan{ConversationID: "g", UserID: "bob", BannedBy: "alice", CreatedAt: now}
	if err := s.CreateBan(ctx, ban, model.ModerationAction{ID: "a1", Kind: model.ActionBan, ConversationID: "g", CreatedAt: now}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	_, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "hi"})
	wantKind(t, err, apperr.KindChannelBan)

	past := now.Add(-time.Minute)
	expired := model.ChannelBan{ConversationID: "g", UserID: "carol", BannedBy: "alice", ExpiresAt: &past, CreatedAt: now.Add(-time.Hour)}
	if err := s.CreateBan(ctx, expired, model.ModerationAction{ID: "a2", Kind: model.ActionBan, ConversationID: "g", CreatedAt: now}); err != nil {
		t.Fatalf("expired ban: %v", err)
	}
	if _, err := svc.SendMessage(ctx, "carol", SendInput{ConversationID: "g", Text: "hi"}); err != nil {
		t.Fatalf("expired ban should not block: %v", err)
	}

	mute := model.ModerationAction{ID: "a3", Kind: model.ActionMute, ActorID: "alice", TargetUserID: "carol", ConversationID: "g", CreatedAt: now}
	if err := s.AppendAction(ctx, mute); err != nil {
		t.Fatalf("mute: %v", err)
	}
	_, err = svc.SendMessage(ctx, "carol", SendInput{ConversationID: "g", Text: "hi"})
	wantKind(t, err, apperr.KindAuthorization)
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	msg, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "helo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = svc.EditMessage(ctx, "carol", msg.ID, "hijack")
	wantKind(t, err, apperr.KindAuthorization)

	edited, err := svc.EditMessage(ctx, "bob", msg.ID, "hello")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Edited || edited.Text != "hello" {
		t.Fatalf("edited = %+v", edited)
	}

	if _, err := svc.DeleteMessage(ctx, "bob", msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = svc.EditMessage(ctx, "bob", msg.ID, "again")
	wantKind(t, err, apperr.KindValidation)
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	msg, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "oops"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = svc.DeleteMessage(ctx, "carol", msg.ID)
	wantKind(t, err, apperr.KindAuthorization)

	deleted, err := svc.DeleteMessage(ctx, "alice", msg.ID)
	if err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if !deleted.Deleted() || deleted.Text != model.DeletedPlaceholder {
		t.Fatalf("deleted = %+v", deleted)
	}
	stored, _ := s.GetMessage(ctx, msg.ID)
	if stored.Text != model.DeletedPlaceholder {
		t.Fatalf("stored text = %q", stored.Text)
	}

	again, err := svc.DeleteMessage(ctx, "bob", msg.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if !again.DeletedAt.Equal(*deleted.DeletedAt) {
		t.Fatalf("second delete changed timestamp")
	}
}

func TestMutedAuthorCannotEdit(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	msg, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "first"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	mute := model.ModerationAction{ID: "m1", Kind: model.ActionMute, ActorID: "alice", TargetUserID: "bob", ConversationID: "g", CreatedAt: time.Now()}
	if err := s.AppendAction(ctx, mute); err != nil {
		t.Fatalf("mute: %v", err)
	}
	_, err = svc.EditMessage(ctx, "bob", msg.ID, "rewritten")
	wantKind(t, err, apperr.KindAuthorization)

	stored, _ := s.GetMessage(ctx, msg.ID)
	if stored.Text != "first" || stored.Edited {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestAuthorWhoLeftCannotDelete(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	msg, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "bye"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.Leave(ctx, "bob", "g"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	_, err = svc.DeleteMessage(ctx, "bob", msg.ID)
	wantKind(t, err, apperr.KindAuthorization)
	if stored, _ := s.GetMessage(ctx, msg.ID); stored.Deleted() {
		t.Fatalf("message deleted by a former member")
	}
}

func TestMessagesPaging(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for i := 0; i < 5; i++ {
		if _, err := svc.SendMessage(ctx, "bob", SendInput{ConversationID: "g", Text: "m"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	page, err := svc.Messages(ctx, "carol", "g", 0, 2)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(page) != 2 || page[0].ID != 5 || page[1].ID != 4 {
		t.Fatalf("page = %+v", page)
	}
	next, _ := svc.Messages(ctx, "carol", "g", page[1].ID, 10)
	if len(next) != 3 || next[0].ID != 3 {
		t.Fatalf("next = %+v", next)
	}
	_, err = svc.Messages(ctx, "dave", "g", 0, 10)
	wantKind(t, err, apperr.KindAuthorization)
}

func TestChangeRole(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)

	m, err := svc.ChangeRole(ctx, "alice", "g", "bob", model.RoleAdmin)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if m.Role != model.RoleAdmin {
		t.Fatalf("role = %s", m.Role)
	}

	tests := []struct {
		name          string
		actor, target string
		role          model.Role
		kind          apperr.Kind
	}{
		{"already admin", "alice", "bob", model.RoleAdmin, apperr.KindConflict},
		{"self", "bob", "bob", model.RoleMember, apperr.KindValidation},
		{"admin cannot grant owner", "bob", "carol", model.RoleOwner, apperr.KindAuthorization},
		{"admin cannot demote owner", "bob", "alice", model.RoleMember, apperr.KindAuthorization},
		{"member cannot promote", "carol", "bob", model.RoleMember, apperr.KindAuthorization},
		{"unknown role", "alice", "carol", model.Role("GOD"), apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ChangeRole(ctx, tt.actor, "g", tt.target, tt.role)
			wantKind(t, err, tt.kind)
		})
	}

	if _, err := svc.ChangeRole(ctx, "bob", "g", "carol", model.RoleAdmin); err != nil {
		t.Fatalf("admin promoting member: %v", err)
	}
	_, err = svc.ChangeRole(ctx, "bob", "g", "carol", model.RoleMember)
	wantKind(t, err, apperr.KindAuthorization)
	owners, _ := s.CountRole(ctx, "g", model.RoleOwner)
	if owners != 1 {
		t.Fatalf("owners = %d", owners)
	}
}

func TestLastOwnerIsProtected(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)

	err := svc.Leave(ctx, "alice", "g")
	wantKind(t, err, apperr.KindConflict)

	if _, err := svc.ChangeRole(ctx, "alice", "g", "bob", model.RoleOwner); err != nil {
		t.Fatalf("second owner: %v", err)
	}
	if err := svc.Leave(ctx, "alice", "g"); err != nil {
		t.Fatalf("leave with co-owner: %v", err)
	}
	owners, _ := s.CountRole(ctx, "g", model.RoleOwner)
	if owners != 1 {
		t.Fatalf("owners = %d, want 1", owners)
	}
	err = svc.Leave(ctx, "bob", "g")
	wantKind(t, err, apperr.KindConflict)
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)

	wantKind(t, svc.RemoveMember(ctx, "bob", "g", "carol"), apperr.KindAuthorization)
	if err := svc.RemoveMember(ctx, "alice", "g", "carol"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.GetMember(ctx, "g", "carol"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("carol still a member: %v", err)
	}
}

func TestJoinPublic(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	s.AddUsers("dave", "erin")
	c := s.AddConversation("lobby", model.KindChannel, "alice")
	c.Public = true
	s.UpdateConversation(c)

	_, err := svc.JoinPublic(ctx, "dave", "g")
	wantKind(t, err, apperr.KindAuthorization)

	m, err := svc.JoinPublic(ctx, "dave", "lobby")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.Role != model.RoleMember {
		t.Fatalf("role = %s", m.Role)
	}

	now := time.Now()
	if err := s.CreateBan(ctx, model.ChannelBan{ConversationID: "lobby", UserID: "erin", CreatedAt: now},
		model.ModerationAction{ID: "b", Kind: model.ActionBan, ConversationID: "lobby", CreatedAt: now}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	_, err = svc.JoinPublic(ctx, "erin", "lobby")
	wantKind(t, err, apperr.KindChannelBan)
}

func TestInvitationLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	s.AddUsers("dave", "erin")

	inv, err := svc.Invite(ctx, "bob", "g", "dave", nil)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Status != model.InvitationPending || inv.ID == "" {
		t.Fatalf("invitation = %+v", inv)
	}
	_, err = svc.Invite(ctx, "bob", "g", "dave", nil)
	wantKind(t, err, apperr.KindConflict)
	_, err = svc.Invite(ctx, "bob", "g", "carol", nil)
	wantKind(t, err, apperr.KindConflict)

	_, err = svc.AcceptInvitation(ctx, "erin", inv.ID)
	wantKind(t, err, apperr.KindAuthorization)

	m, err := svc.AcceptInvitation(ctx, "dave", inv.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.Role != model.RoleMember || m.ConversationID != "g" {
		t.Fatalf("membership = %+v", m)
	}
	_, err = svc.AcceptInvitation(ctx, "dave", inv.ID)
	wantKind(t, err, apperr.KindConflict)

	second, err := svc.Invite(ctx, "alice", "g", "erin", nil)
	if err != nil {
		t.Fatalf("invite erin: %v", err)
	}
	if err := svc.DeclineInvitation(ctx, "erin", second.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := s.GetMember(ctx, "g", "erin"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("declined user joined: %v", err)
	}
}

func TestInviteToChannelRequiresElevatedRole(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	s.AddUsers("dave")
	s.AddConversation("news", model.KindChannel, "alice", "bob")

	_, err := svc.Invite(ctx, "bob", "news", "dave", nil)
	wantKind(t, err, apperr.KindAuthorization)

	past := time.Now().Add(-time.Second)
	_, err = svc.Invite(ctx, "alice", "news", "dave", &past)
	wantKind(t, err, apperr.KindValidation)
}
