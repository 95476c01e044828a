package moderation_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/moderation"
	"github.com/mahaj/dupahar-realtime/pkg/store/memstore"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Generate() int64 { return s.n.Add(1) }

type fixture struct {
	store  *memstore.Store
	convs  *conversation.Service
	engine *moderation.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memstore.New()
	s.AddConversation("g", model.KindGroup, "alice", "bob", "carol")
	convs := conversation.NewService(s, &seqIDs{}, nil)
	return fixture{store: s, convs: convs, engine: moderation.NewEngine(s, convs, convs, nil)}
}

func (f fixture) apply(t *testing.T, req moderation.Request) moderation.Outcome {
	t.Helper()
	out, err := f.engine.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("apply %s: %v", req.Action, err)
	}
	return out
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); err == nil || got != kind {
		t.Fatalf("error = %v (kind %s), want %s", err, got, kind)
	}
}

func TestBanBlocksSendUntilUnban(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	send := conversation.SendInput{ConversationID: "g", Text: "hello"}

	if _, err := f.convs.SendMessage(ctx, "bob", send); err != nil {
		t.Fatalf("send before ban: %v", err)
	}

	out := f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionBan, TargetUserID: "bob", Reason: "spam"})
	if out.Action.Kind != model.ActionBan || out.Action.TargetUserID != "bob" {
		t.Fatalf("audit = %+v", out.Action)
	}
	_, err := f.convs.SendMessage(ctx, "bob", send)
	wantKind(t, err, apperr.KindChannelBan)

	_, err = f.engine.Apply(ctx, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionBan, TargetUserID: "bob"})
	wantKind(t, err, apperr.KindConflict)

	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionUnban, TargetUserID: "bob"})
	if _, err := f.convs.SendMessage(ctx, "bob", send); err != nil {
		t.Fatalf("send after unban: %v", err)
	}

	_, err = f.engine.Apply(ctx, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionUnban, TargetUserID: "bob"})
	wantKind(t, err, apperr.KindNotFound)

	kinds := []model.ModerationKind{}
	for _, a := range f.store.Actions() {
		kinds = append(kinds, a.Kind)
	}
	if len(kinds) != 2 || kinds[0] != model.ActionBan || kinds[1] != model.ActionUnban {
		t.Fatalf("audit trail = %v", kinds)
	}
}

func TestMuteThenUnmuteClearsMute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionMute, TargetUserID: "bob"})
	mute, err := f.engine.GetActiveMute(ctx, "bob", "g")
	if err != nil || mute == nil {
		t.Fatalf("active mute = %v, %v", mute, err)
	}

	time.Sleep(2 * time.Millisecond)
	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionUnmute, TargetUserID: "bob"})
	mute, err = f.engine.GetActiveMute(ctx, "bob", "g")
	if err != nil {
		t.Fatalf("get mute: %v", err)
	}
	if mute != nil {
		t.Fatalf("mute after unmute = %+v", mute)
	}
}

func TestMuteWithPastExpiryIsInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	past := time.Now().Add(-time.Minute)

	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionMute, TargetUserID: "bob", ExpiresAt: &past})
	mute, err := f.engine.GetActiveMute(ctx, "bob", "g")
	if err != nil {
		t.Fatalf("get mute: %v", err)
	}
	if mute != nil {
		t.Fatalf("expired mute still active: %+v", mute)
	}
	if _, err := f.convs.SendMessage(ctx, "bob", conversation.SendInput{ConversationID: "g", Text: "hi"}); err != nil {
		t.Fatalf("send with expired mute: %v", err)
	}
}

func TestApplyRejections(t *testing.T) {
	f := newFixture(t)
	f.store.AddUsers("dave")
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name string
		req  moderation.Request
		kind apperr.Kind
	}{
		{"member actor", moderation.Request{ActorID: "bob", ConversationID: "g", Action: model.ActionBan, TargetUserID: "carol"}, apperr.KindAuthorization},
		{"outsider actor", moderation.Request{ActorID: "dave", ConversationID: "g", Action: model.ActionMute, TargetUserID: "carol"}, apperr.KindAuthorization},
		{"missing conversation", moderation.Request{ActorID: "alice", ConversationID: "nope", Action: model.ActionBan, TargetUserID: "bob"}, apperr.KindNotFound},
		{"self target", moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionBan, TargetUserID: "alice"}, apperr.KindValidation},
		{"missing target", moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionMute}, apperr.KindValidation},
		{"unknown user", moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionBan, TargetUserID: "ghost"}, apperr.KindNotFound},
		{"ban in the past", moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionBan, TargetUserID: "bob", ExpiresAt: &past}, apperr.KindValidation},
		{"kick", moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionKick, TargetUserID: "bob"}, apperr.KindNotImplemented},
		{"pin", moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionPinMessage, MessageID: 1}, apperr.KindNotImplemented},
		{"unknown action", moderation.Request{ActorID: "alice", ConversationID: "g", Action: "SHOUT", TargetUserID: "bob", ExpiresAt: &future}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Apply(context.Background(), tt.req)
			wantKind(t, err, tt.kind)
		})
	}
	if n := len(f.store.Actions()); n != 0 {
		t.Fatalf("rejected requests wrote %d audit records", n)
	}
}

func TestRoleChangesRespectHierarchy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out := f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionMakeAdmin, TargetUserID: "bob"})
	if out.Membership == nil || out.Membership.Role != model.RoleAdmin {
		t.Fatalf("outcome = %+v", out)
	}

	_, err := f.engine.Apply(ctx, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionMakeAdmin, TargetUserID: "bob"})
	wantKind(t, err, apperr.KindConflict)

	_, err = f.engine.Apply(ctx, moderation.Request{ActorID: "bob", ConversationID: "g", Action: model.ActionRemoveAdmin, TargetUserID: "alice"})
	wantKind(t, err, apperr.KindAuthorization)

	_, err = f.engine.Apply(ctx, moderation.Request{ActorID: "bob", ConversationID: "g", Action: model.ActionBan, TargetUserID: "alice"})
	wantKind(t, err, apperr.KindAuthorization)

	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionRemoveAdmin, TargetUserID: "bob"})
	m, _ := f.store.GetMember(ctx, "g", "bob")
	if m.Role != model.RoleMember {
		t.Fatalf("bob role = %s", m.Role)
	}
	owners, _ := f.store.CountRole(ctx, "g", model.RoleOwner)
	if owners != 1 {
		t.Fatalf("owners = %d", owners)
	}
}

func TestDeleteMessageRecordsAuthorAsTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg, err := f.convs.SendMessage(ctx, "carol", conversation.SendInput{ConversationID: "g", Text: "rude"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	out := f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionDeleteMessage, MessageID: msg.ID, Reason: "rude"})
	if out.Message == nil || !out.Message.Deleted() {
		t.Fatalf("outcome message = %+v", out.Message)
	}
	if out.Action.TargetUserID != "carol" || out.Action.MessageID != msg.ID {
		t.Fatalf("audit = %+v", out.Action)
	}

	_, err = f.engine.Apply(ctx, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionDeleteMessage})
	wantKind(t, err, apperr.KindValidation)
}

func TestHistoryRequiresElevatedRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionMute, TargetUserID: "bob"})
	time.Sleep(2 * time.Millisecond)
	f.apply(t, moderation.Request{ActorID: "alice", ConversationID: "g", Action: model.ActionUnmute, TargetUserID: "bob"})

	history, err := f.engine.History(ctx, "alice", "g")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Kind != model.ActionUnmute {
		t.Fatalf("history = %+v", history)
	}
	_, err = f.engine.History(ctx, "bob", "g")
	wantKind(t, err, apperr.KindAuthorization)
}
