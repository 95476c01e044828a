// Package events mirrors realtime broadcasts onto a Kafka topic and reads
// them back for downstream services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-realtime/pkg/config"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// Record is one broadcast as written to the log. Exactly one of Room and
// User is set.
type Record struct {
	Event   model.EventType `json:"event"`
	Room    string          `json:"room,omitempty"`
	User    string          `json:"user,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"timestamp"`
}

// Key partitions records so one room's events stay ordered.
func (r Record) Key() string {
	if r.Room != "" {
		return r.Room
	}
	return "user:" + r.User
}

// Decode parses a record and its payload into T.
func Decode[T any](r Record) (T, error) {
	var v T
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", r.Event, err)
	}
	return v, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements broadcast.Broadcaster by appending every event to
// the topic.
type Publisher struct {
	w      messageWriter
	origin string
	now    func() time.Time
}

func NewPublisher(cfg config.Kafka, origin string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}, origin)
}

func newPublisher(w messageWriter, origin string) *Publisher {
	return &Publisher{w: w, origin: origin, now: time.Now}
}

func (p *Publisher) ToRoom(ctx context.Context, room string, event model.EventType, payload any) error {
	return p.publish(ctx, Record{Event: event, Room: room}, payload)
}

func (p *Publisher) ToUser(ctx context.Context, userID string, event model.EventType, payload any) error {
	return p.publish(ctx, Record{Event: event, User: userID}, payload)
}

func (p *Publisher) publish(ctx context.Context, r Record, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", r.Event, err)
	}
	r.Payload = data
	r.Origin = p.origin
	r.Time = p.now().UTC()

	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(r.Key()), Value: value, Time: r.Time}); err != nil {
		return fmt.Errorf("publish %s: %w", r.Event, err)
	}
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }
