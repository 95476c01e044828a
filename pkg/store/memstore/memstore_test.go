package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

func TestUpsertReceiptNeverMovesBackward(t *testing.T) {
	ctx := context.Background()
	s := New()
	seen := time.Now()

	steps := []struct {
		status  model.ReceiptStatus
		changed bool
		want    model.ReceiptStatus
	}{
		{model.ReceiptSent, true, model.ReceiptSent},
		{model.ReceiptRead, true, model.ReceiptRead},
		{model.ReceiptDelivered, false, model.ReceiptRead},
		{model.ReceiptSent, false, model.ReceiptRead},
		{model.ReceiptRead, false, model.ReceiptRead},
	}
	for i, step := range steps {
		changed, err := s.UpsertReceipt(ctx, model.Receipt{MessageID: 1, UserID: "u", Status: step.status, SeenAt: &seen})
		if err != nil {
			t.Fatalf("step %d: upsert: %v", i, err)
		}
		if changed != step.changed {
			t.Fatalf("step %d: changed = %v, want %v", i, changed, step.changed)
		}
		rs, _ := s.ListReceipts(ctx, 1)
		if len(rs) != 1 || rs[0].Status != step.want {
			t.Fatalf("step %d: receipts = %+v", i, rs)
		}
	}
}

func TestUpsertReceiptClearsSeenAtBelowRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	seen := time.Now()
	if _, err := s.UpsertReceipt(ctx, model.Receipt{MessageID: 1, UserID: "u", Status: model.ReceiptDelivered, SeenAt: &seen}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rs, _ := s.ListReceipts(ctx, 1)
	if rs[0].SeenAt != nil {
		t.Fatal("expected seenAt to stay unset before READ")
	}
}

func TestCreateBanConflictsWhileActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	ban := model.ChannelBan{ConversationID: "c", UserID: "u", CreatedAt: now}
	if err := s.CreateBan(ctx, ban, model.ModerationAction{ID: "1", ConversationID: "c", Kind: model.ActionBan}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	err := s.CreateBan(ctx, ban, model.ModerationAction{ID: "2", ConversationID: "c", Kind: model.ActionBan})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := len(s.Actions()); got != 1 {
		t.Fatalf("expected failed ban to leave no audit record, got %d", got)
	}
}

func TestCreateBanReplacesExpiredBan(t *testing.T) {
	ctx := context.Background()
	s := New()
	past := time.Now().Add(-time.Hour)
	_ = s.CreateBan(ctx, model.ChannelBan{ConversationID: "c", UserID: "u", ExpiresAt: &past, CreatedAt: past.Add(-time.Hour)}, model.ModerationAction{ID: "1"})
	if err := s.CreateBan(ctx, model.ChannelBan{ConversationID: "c", UserID: "u", CreatedAt: time.Now()}, model.ModerationAction{ID: "2"}); err != nil {
		t.Fatalf("expected expired ban to be replaced, got %v", err)
	}
}

func TestCreateInvitationUniquePerRecipient(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := model.Invitation{ID: "i1", ConversationID: "c", RecipientID: "u", Status: model.InvitationPending}
	if err := s.CreateInvitation(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateInvitation(ctx, model.Invitation{ID: "i2", ConversationID: "c", RecipientID: "u", Status: model.InvitationPending}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_ = s.SetInvitationStatus(ctx, "i1", model.InvitationDeclined)
	if err := s.CreateInvitation(ctx, model.Invitation{ID: "i3", ConversationID: "c", RecipientID: "u", Status: model.InvitationPending}); err != nil {
		t.Fatalf("expected re-invite after decline, got %v", err)
	}
	if _, err := s.GetInvitation(ctx, "i1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected answered invitation to be replaced, got %v", err)
	}
}

func TestListReactionsKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, r := range []model.Reaction{
		{MessageID: 1, UserID: "b", Emoji: "🔥"},
		{MessageID: 1, UserID: "a", Emoji: "👍"},
		{MessageID: 1, UserID: "c", Emoji: "🔥"},
	} {
		if err := s.CreateReaction(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	rs, _ := s.ListReactions(ctx, 1)
	if len(rs) != 3 || rs[0].UserID != "b" || rs[1].UserID != "a" || rs[2].UserID != "c" {
		t.Fatalf("unexpected order: %+v", rs)
	}
}
