package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/broadcast"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/store/memstore"
)

// heldReceipts blocks the receipt upserts of one message until release is
// closed, stretching the gap between its commit and its broadcast.
type heldReceipts struct {
	*memstore.Store
	messageID int64
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func (h *heldReceipts) UpsertReceipt(ctx context.Context, r model.Receipt) (bool, error) {
	if r.MessageID == h.messageID {
		h.once.Do(func() { close(h.entered) })
		<-h.release
	}
	return h.Store.UpsertReceipt(ctx, r)
}

func (q *sequencer) holders(conversationID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l := q.rooms[conversationID]; l != nil {
		return l.refs
	}
	return 0
}

// waitHolders waits until n calls hold or wait on the conversation's lock.
func waitHolders(t *testing.T, svc *Service, conversationID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for svc.seq.holders(conversationID) < n {
		if time.Now().After(deadline) {
			t.Fatalf("%d callers never queued on %s", n, conversationID)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrentSendsBroadcastInCommitOrder(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	mem.AddConversation("g", model.KindGroup, "alice", "bob", "carol")
	st := &heldReceipts{Store: mem, messageID: 1, entered: make(chan struct{}), release: make(chan struct{})}
	rec := &broadcast.Recorder{}
	svc := Assemble(st, &seqIDs{}, rec, nil)

	var wg sync.WaitGroup
	send := func(user, text string) {
		defer wg.Done()
		if _, err := svc.SendMessage(ctx, user, conversation.SendInput{ConversationID: "g", Text: text}); err != nil {
			t.Errorf("%s send: %v", user, err)
		}
	}

	wg.Add(1)
	go send("alice", "first")
	select {
	case <-st.entered:
	case <-time.After(time.Second):
		t.Fatal("first send never reached receipts")
	}

	wg.Add(1)
	go send("bob", "second")
	waitHolders(t, svc, "g", 2)
	close(st.release)
	wg.Wait()

	news := rec.Events(model.EventMessageNew)
	if len(news) != 2 {
		t.Fatalf("message:new = %d, want 2", len(news))
	}
	first, second := news[0].Payload.(model.Message), news[1].Payload.(model.Message)
	if first.Text != "first" || second.Text != "second" || first.ID > second.ID {
		t.Fatalf("broadcast order = [%s #%d, %s #%d]", first.Text, first.ID, second.Text, second.ID)
	}
	if n := svc.seq.len(); n != 0 {
		t.Fatalf("sequencer kept %d rooms after release", n)
	}
}

func TestEditWaitsForInFlightSend(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	mem.AddConversation("g", model.KindGroup, "alice", "bob")
	st := &heldReceipts{Store: mem, messageID: 2, entered: make(chan struct{}), release: make(chan struct{})}
	rec := &broadcast.Recorder{}
	svc := Assemble(st, &seqIDs{}, rec, nil)

	old, err := svc.SendMessage(ctx, "bob", conversation.SendInput{ConversationID: "g", Text: "helo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := svc.SendMessage(ctx, "alice", conversation.SendInput{ConversationID: "g", Text: "news"}); err != nil {
			t.Errorf("send: %v", err)
		}
	}()
	<-st.entered
	go func() {
		defer wg.Done()
		if _, err := svc.EditMessage(ctx, "bob", old.ID, "hello"); err != nil {
			t.Errorf("edit: %v", err)
		}
	}()
	waitHolders(t, svc, "g", 2)
	close(st.release)
	wg.Wait()

	var order []model.EventType
	for _, s := range rec.Sent() {
		if s.Event == model.EventMessageNew || s.Event == model.EventMessageUpdated {
			order = append(order, s.Event)
		}
	}
	want := []model.EventType{model.EventMessageNew, model.EventMessageNew, model.EventMessageUpdated}
	if len(order) != len(want) {
		t.Fatalf("events = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("events = %v, want %v", order, want)
		}
	}
}
