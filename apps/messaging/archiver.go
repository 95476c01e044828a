package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/events"
	"github.com/mahaj/dupahar-realtime/pkg/metrics"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// Archive is the history store the archiver writes to.
type Archive interface {
	Archive(ctx context.Context, m model.Message) error
	MarkDeleted(ctx context.Context, conversationID string, messageID int64, at time.Time) error
}

// archiver persists message events from the log. Everything that is not
// a message event is ephemeral and skipped.
type archiver struct {
	history Archive
	metrics *metrics.Metrics
	log     *slog.Logger
}

func (a *archiver) handle(ctx context.Context, r events.Record) error {
	var err error
	switch r.Event {
	case model.EventMessageNew, model.EventMessageUpdated:
		var msg model.Message
		if msg, err = events.Decode[model.Message](r); err == nil {
			err = a.history.Archive(ctx, msg)
		}
	case model.EventMessageDeleted:
		var ref chat.MessageRef
		if ref, err = events.Decode[chat.MessageRef](r); err == nil {
			err = a.history.MarkDeleted(ctx, ref.ConversationID, ref.MessageID, r.Time)
		}
	default:
		return nil
	}
	a.metrics.Archive(r.Event, err)
	if err == nil {
		a.log.Debug("archived", "event", r.Event, "conversation", r.Room, "origin", r.Origin)
	}
	return err
}
