package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisherWritesKeyedRecords(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "gw-1")
	ctx := context.Background()

	if err := p.ToRoom(ctx, "g", model.EventMessageNew, model.Message{ID: 7, ConversationID: "g", Text: "hi"}); err != nil {
		t.Fatalf("ToRoom: %v", err)
	}
	if err := p.ToUser(ctx, "bob", model.EventNotificationNew, map[string]int{"count": 1}); err != nil {
		t.Fatalf("ToUser: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "g" || string(w.msgs[1].Key) != "user:bob" {
		t.Fatalf("keys = %q, %q", w.msgs[0].Key, w.msgs[1].Key)
	}

	var r Record
	if err := json.Unmarshal(w.msgs[0].Value, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Origin != "gw-1" || r.Event != model.EventMessageNew {
		t.Fatalf("record = %+v", r)
	}
	msg, err := Decode[model.Message](r)
	if err != nil || msg.ID != 7 || msg.Text != "hi" {
		t.Fatalf("decoded %+v, %v", msg, err)
	}
}

func TestPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := newPublisher(&fakeWriter{err: boom}, "")
	if err := p.ToRoom(context.Background(), "g", model.EventMessageNew, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func TestConsumerHandlesAndCommitsEveryRecord(t *testing.T) {
	good, _ := json.Marshal(Record{Event: model.EventMessageNew, Room: "g", Payload: json.RawMessage(`{}`)})
	failing, _ := json.Marshal(Record{Event: model.EventMessageDeleted, Room: "g"})
	reader := &fakeReader{pending: []kafka.Message{
		{Offset: 1, Value: good},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: failing},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu   sync.Mutex
		seen []model.EventType
	)
	c := newConsumer(reader, func(_ context.Context, r Record) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Event)
		if len(seen) == 2 {
			defer cancel()
			return errors.New("archive unavailable")
		}
		return nil
	}, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not stop")
	}

	if len(seen) != 2 || seen[0] != model.EventMessageNew || seen[1] != model.EventMessageDeleted {
		t.Fatalf("handled %v", seen)
	}
	if len(reader.committed) < 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Fatalf("committed %v", reader.committed)
	}
	if !reader.closed {
		t.Fatalf("reader not closed")
	}
}

func TestLiveStartsAtTheEnd(t *testing.T) {
	rc := kafka.ReaderConfig{MinBytes: 10e3}
	Live()(&rc)
	if rc.StartOffset != kafka.LastOffset || rc.MinBytes != 1 || rc.MaxWait <= 0 {
		t.Fatalf("live config = %+v", rc)
	}
}
