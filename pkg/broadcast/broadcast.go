// Package broadcast is the narrow outbound interface handed to every
// component that emits realtime events.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/mahaj/dupahar-realtime/pkg/model"
)

type Broadcaster interface {
	// ToRoom delivers an event to every connection subscribed to room.
	ToRoom(ctx context.Context, room string, event model.EventType, payload any) error
	// ToUser delivers an event to every connection of userID.
	ToUser(ctx context.Context, userID string, event model.EventType, payload any) error
}

// Multi fans every call out to each broadcaster and joins their errors.
type Multi []Broadcaster

func (m Multi) ToRoom(ctx context.Context, room string, event model.EventType, payload any) error {
	var errs []error
	for _, b := range m {
		if err := b.ToRoom(ctx, room, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) ToUser(ctx context.Context, userID string, event model.EventType, payload any) error {
	var errs []error
	for _, b := range m {
		if err := b.ToUser(ctx, userID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) ToRoom(context.Context, string, model.EventType, any) error { return nil }
func (Discard) ToUser(context.Context, string, model.EventType, any) error { return nil }

// Sent is one recorded delivery.
type Sent struct {
	Room    string
	User    string
	Event   model.EventType
	Payload any
}

// Recorder keeps every delivery in order. Tests use it in place of a hub.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Err  error
}

func (r *Recorder) ToRoom(_ context.Context, room string, event model.EventType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Room: room, Event: event, Payload: payload})
	return r.Err
}

func (r *Recorder) ToUser(_ context.Context, userID string, event model.EventType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{User: userID, Event: event, Payload: payload})
	return r.Err
}

// Sent returns a copy of every delivery so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Events returns deliveries of the given event type.
func (r *Recorder) Events(event model.EventType) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
