package model

import (
	"testing"
	"time"
)

func TestRoleRanking(t *testing.T) {
	if !RoleOwner.Outranks(RoleAdmin) || !RoleAdmin.Outranks(RoleMember) {
		t.Fatal("expected OWNER > ADMIN > MEMBER")
	}
	if RoleAdmin.Outranks(RoleAdmin) {
		t.Fatal("expected equal roles not to outrank each other")
	}
	if RoleMember.Elevated() || !RoleAdmin.Elevated() || !RoleOwner.Elevated() {
		t.Fatal("unexpected elevated roles")
	}
	if Role("GUEST").Valid() {
		t.Fatal("expected unknown role to be invalid")
	}
}

func TestReceiptStatusAdvances(t *testing.T) {
	if !ReceiptSent.Advances(ReceiptDelivered) || !ReceiptDelivered.Advances(ReceiptRead) {
		t.Fatal("expected forward transitions")
	}
	if ReceiptRead.Advances(ReceiptSent) || ReceiptRead.Advances(ReceiptRead) {
		t.Fatal("expected backward and equal transitions to be rejected")
	}
	if ReceiptStatusFromRank(ReceiptDelivered.Rank()) != ReceiptDelivered {
		t.Fatal("rank round trip failed")
	}
}

func TestBanAndActionExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if !(ChannelBan{}).Active(now) {
		t.Fatal("expected ban without expiry to be active")
	}
	if (ChannelBan{ExpiresAt: &past}).Active(now) {
		t.Fatal("expected expired ban to be inactive")
	}
	if (ModerationAction{ExpiresAt: &future}).Expired(now) {
		t.Fatal("expected future expiry not to be expired")
	}
	if !(Invitation{ExpiresAt: &past}).Expired(now) {
		t.Fatal("expected past invitation to be expired")
	}
}
