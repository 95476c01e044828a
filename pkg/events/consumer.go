package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/dupahar-realtime/pkg/config"
)

// Handler processes one record. A returned error is logged and the
// record is still committed; poison records must not stall the group.
type Handler func(ctx context.Context, r Record) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	handle  Handler
	log     *slog.Logger
	backoff time.Duration
}

// ConsumerOption adjusts the reader configuration.
type ConsumerOption func(*kafka.ReaderConfig)

// Live tunes a reader for fan-out to connected clients: a new group starts
// at the end of the topic and fetches return as soon as a record arrives.
func Live() ConsumerOption {
	return func(rc *kafka.ReaderConfig) {
		rc.StartOffset = kafka.LastOffset
		rc.MinBytes = 1
		rc.MaxWait = 250 * time.Millisecond
	}
}

func NewConsumer(cfg config.Kafka, h Handler, log *slog.Logger, opts ...ConsumerOption) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	}
	for _, o := range opts {
		o(&rc)
	}
	return newConsumer(kafka.NewReader(rc), h, log)
}

func newConsumer(r messageReader, h Handler, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{reader: r, handle: h, log: log, backoff: time.Second}
}

// Run fetches, handles and commits until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		var r Record
		if err := json.Unmarshal(m.Value, &r); err != nil {
			c.log.Warn("skipping malformed record", "offset", m.Offset, "error", err)
		} else if err := c.handle(ctx, r); err != nil {
			c.log.Error("handle record failed", "event", r.Event, "offset", m.Offset, "error", err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed", "offset", m.Offset, "error", err)
		}
	}
}
