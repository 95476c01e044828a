package membership

import (
	"context"
	"testing"

	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/store/memstore"
)

type fakeConn struct{ id, user string }

func (c fakeConn) ID() string     { return c.id }
func (c fakeConn) UserID() string { return c.user }

func newRegistry(t *testing.T) (*Registry, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	s.AddConversation("g1", model.KindGroup, "alice", "bob")
	s.AddConversation("g2", model.KindGroup, "alice")
	s.AddConversation("g3", model.KindGroup, "carol")
	return NewRegistry(s, nil), s
}

func TestJoinAllForUser(t *testing.T) {
	r, _ := newRegistry(t)
	conn := fakeConn{id: "c1", user: "alice"}
	r.Register(conn)

	rooms, err := r.JoinAllForUser(context.Background(), conn, "alice")
	if err != nil {
		t.Fatalf("join all: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %v", rooms)
	}
	got := r.RoomsOf(conn)
	want := []string{"g1", "g2", "user:alice"}
	if len(got) != len(want) {
		t.Fatalf("rooms of conn = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rooms of conn = %v, want %v", got, want)
		}
	}
}

func TestJoinAllForUserWithoutMemberships(t *testing.T) {
	r, s := newRegistry(t)
	s.AddUsers("dave")
	conn := fakeConn{id: "c1", user: "dave"}
	rooms, err := r.JoinAllForUser(context.Background(), conn, "dave")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("rooms = %v", rooms)
	}
}

func TestJoinOneRechecksMembership(t *testing.T) {
	ctx := context.Background()
	r, s := newRegistry(t)
	conn := fakeConn{id: "c1", user: "bob"}

	ok, err := r.JoinOne(ctx, conn, "g3")
	if err != nil || ok {
		t.Fatalf("expected refusal for non-member, got ok=%v err=%v", ok, err)
	}
	if len(r.Connections("g3")) != 0 {
		t.Fatal("expected no subscription for non-member")
	}

	ok, err = r.JoinOne(ctx, conn, "g1")
	if err != nil || !ok {
		t.Fatalf("expected join, got ok=%v err=%v", ok, err)
	}

	// Membership removed after connect: a later join must be refused.
	r.LeaveOne(conn, "g1")
	_ = s.RemoveMember(ctx, "g1", "bob")
	ok, _ = r.JoinOne(ctx, conn, "g1")
	if ok {
		t.Fatal("expected join to be refused after removal")
	}
}

func TestLeaveAllKeepsUserChannel(t *testing.T) {
	r, _ := newRegistry(t)
	conn := fakeConn{id: "c1", user: "alice"}
	r.Register(conn)
	_, _ = r.JoinAllForUser(context.Background(), conn, "alice")

	r.LeaveAll(conn)
	rooms := r.RoomsOf(conn)
	if len(rooms) != 1 || rooms[0] != "user:alice" {
		t.Fatalf("rooms = %v", rooms)
	}
	if len(r.Connections("g1")) != 0 {
		t.Fatal("expected g1 to be empty")
	}

	r.Unregister(conn)
	if len(r.UserConnections("alice")) != 0 {
		t.Fatal("expected unregister to drop the user channel")
	}
}

func TestConnectionsAcrossSockets(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)
	a1 := fakeConn{id: "a1", user: "alice"}
	a2 := fakeConn{id: "a2", user: "alice"}
	r.Register(a1)
	r.Register(a2)
	_, _ = r.JoinAllForUser(ctx, a1, "alice")
	_, _ = r.JoinAllForUser(ctx, a2, "alice")

	if n := len(r.Connections("g1")); n != 2 {
		t.Fatalf("g1 connections = %d", n)
	}
	r.LeaveOne(a1, "g1")
	if n := len(r.Connections("g1")); n != 1 {
		t.Fatalf("g1 connections after leave = %d", n)
	}
	if n := len(r.UserConnections("alice")); n != 2 {
		t.Fatalf("user connections = %d", n)
	}
}
