// Package receipt tracks per-(message, user) delivery and read status.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/snowflake"
)

type Store interface {
	GetMember(ctx context.Context, conversationID, userID string) (model.Membership, error)
	ListMembers(ctx context.Context, conversationID string) ([]model.Membership, error)
	SetLastRead(ctx context.Context, conversationID, userID string, messageID int64) error
	GetMessage(ctx context.Context, id int64) (model.Message, error)
	MessageIDsUpTo(ctx context.Context, conversationID string, upTo int64) ([]int64, error)
	CountMessagesSince(ctx context.Context, conversationID, excludeAuthor string, since time.Time) (int, error)
	UpsertReceipt(ctx context.Context, r model.Receipt) (bool, error)
	ListReceipts(ctx context.Context, messageID int64) ([]model.Receipt, error)
}

// ReadResult is returned by MarkRead. LastMessageID is zero when there was
// nothing to mark.
type ReadResult struct {
	MessagesAffected int   `json:"messagesAffected"`
	LastMessageID    int64 `json:"lastMessageId,omitempty"`
}

// Update is the single-receipt receipt:update payload.
type Update struct {
	ConversationID string              `json:"conversationId"`
	MessageID      int64               `json:"messageId"`
	UserID         string              `json:"userId"`
	Status         model.ReceiptStatus `json:"status"`
	SeenAt         *time.Time          `json:"seenAt,omitempty"`
}

// BulkUpdate is the "read up to" receipt:update payload.
type BulkUpdate struct {
	ConversationID   string              `json:"conversationId"`
	UserID           string              `json:"userId"`
	Status           model.ReceiptStatus `json:"status"`
	UpToMessageID    int64               `json:"upToMessageId"`
	MessagesAffected int                 `json:"messagesAffected"`
	SeenAt           time.Time           `json:"seenAt"`
}

type Reader struct {
	UserID string    `json:"userId"`
	SeenAt time.Time `json:"seenAt"`
}

type Stats struct {
	MessageID int64    `json:"messageId"`
	Sent      int      `json:"sent"`
	Delivered int      `json:"delivered"`
	Read      int      `json:"read"`
	ReadBy    []Reader `json:"readBy"`
}

type Aggregator struct {
	store Store
	now   func() time.Time
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CreateForRecipients writes the sender's receipt as READ and a SENT
// receipt for every other member. It returns the number of SENT receipts.
func (a *Aggregator) CreateForRecipients(ctx context.Context, messageID int64, conversationID, senderID string) (int, error) {
	members, err := a.store.ListMembers(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}
	now := a.now()
	if _, err := a.store.UpsertReceipt(ctx, model.Receipt{
		MessageID: messageID, UserID: senderID, Status: model.ReceiptRead, SeenAt: &now, UpdatedAt: now,
	}); err != nil {
		return 0, fmt.Errorf("sender receipt: %w", err)
	}
	n := 0
	for _, m := range members {
		if m.UserID == senderID {
			continue
		}
		if _, err := a.store.UpsertReceipt(ctx, model.Receipt{
			MessageID: messageID, UserID: m.UserID, Status: model.ReceiptSent, UpdatedAt: now,
		}); err != nil {
			return n, fmt.Errorf("receipt for %s: %w", m.UserID, err)
		}
		n++
	}
	return n, nil
}

// CreateWithStatus writes one receipt with the given status for every
// member other than the sender.
func (a *Aggregator) CreateWithStatus(ctx context.Context, messageID int64, conversationID, senderID string, status model.ReceiptStatus) (int, error) {
	if !status.Valid() {
		return 0, apperr.Validation("invalid receipt status")
	}
	members, err := a.store.ListMembers(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}
	now := a.now()
	n := 0
	for _, m := range members {
		if m.UserID == senderID {
			continue
		}
		r := model.Receipt{MessageID: messageID, UserID: m.UserID, Status: status, UpdatedAt: now}
		if status == model.ReceiptRead {
			r.SeenAt = &now
		}
		changed, err := a.store.UpsertReceipt(ctx, r)
		if err != nil {
			return n, fmt.Errorf("receipt for %s: %w", m.UserID, err)
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// MarkRead marks every non-deleted message up to and including upTo (all
// when upTo is zero) as READ for userID and advances the last-read pointer.
// The id set is a snapshot taken before any write, so messages sent while
// it runs are left alone.
func (a *Aggregator) MarkRead(ctx context.Context, conversationID, userID string, upTo int64) (ReadResult, error) {
	if err := a.requireMember(ctx, conversationID, userID); err != nil {
		return ReadResult{}, err
	}
	if upTo != 0 {
		msg, err := a.store.GetMessage(ctx, upTo)
		if err != nil {
			return ReadResult{}, err
		}
		if msg.ConversationID != conversationID {
			return ReadResult{}, apperr.Validation("message does not belong to conversation")
		}
	}

	ids, err := a.store.MessageIDsUpTo(ctx, conversationID, upTo)
	if err != nil {
		return ReadResult{}, fmt.Errorf("snapshot message ids: %w", err)
	}
	if len(ids) == 0 {
		return ReadResult{}, nil
	}

	now := a.now()
	affected := 0
	for _, id := range ids {
		changed, err := a.store.UpsertReceipt(ctx, model.Receipt{
			MessageID: id, UserID: userID, Status: model.ReceiptRead, SeenAt: &now, UpdatedAt: now,
		})
		if err != nil {
			return ReadResult{}, fmt.Errorf("mark %d read: %w", id, err)
		}
		if changed {
			affected++
		}
	}
	last := ids[len(ids)-1]
	if err := a.store.SetLastRead(ctx, conversationID, userID, last); err != nil {
		return ReadResult{}, fmt.Errorf("advance last read: %w", err)
	}
	return ReadResult{MessagesAffected: affected, LastMessageID: last}, nil
}

// MarkDelivered upgrades userID's receipt to DELIVERED. A READ receipt is
// never downgraded; changed is false in that case.
func (a *Aggregator) MarkDelivered(ctx context.Context, messageID int64, userID string) (Update, bool, error) {
	msg, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		return Update{}, false, err
	}
	if err := a.requireMember(ctx, msg.ConversationID, userID); err != nil {
		return Update{}, false, err
	}
	now := a.now()
	changed, err := a.store.UpsertReceipt(ctx, model.Receipt{
		MessageID: messageID, UserID: userID, Status: model.ReceiptDelivered, UpdatedAt: now,
	})
	if err != nil {
		return Update{}, false, fmt.Errorf("mark delivered: %w", err)
	}
	return Update{
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         userID,
		Status:         model.ReceiptDelivered,
	}, changed, nil
}

// GetStats aggregates every receipt of a message.
func (a *Aggregator) GetStats(ctx context.Context, messageID int64) (Stats, error) {
	if _, err := a.store.GetMessage(ctx, messageID); err != nil {
		return Stats{}, err
	}
	receipts, err := a.store.ListReceipts(ctx, messageID)
	if err != nil {
		return Stats{}, fmt.Errorf("list receipts: %w", err)
	}
	st := Stats{MessageID: messageID, ReadBy: []Reader{}}
	for _, r := range receipts {
		switch r.Status {
		case model.ReceiptSent:
			st.Sent++
		case model.ReceiptDelivered:
			st.Delivered++
		case model.ReceiptRead:
			st.Read++
			rd := Reader{UserID: r.UserID}
			if r.SeenAt != nil {
				rd.SeenAt = *r.SeenAt
			}
			st.ReadBy = append(st.ReadBy, rd)
		}
	}
	return st, nil
}

// GetUnreadCount counts other members' non-deleted messages after the
// member's last-read message, or all of them when nothing was read yet.
func (a *Aggregator) GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	m, err := a.store.GetMember(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, apperr.Authorization("not a member of this conversation")
		}
		return 0, err
	}
	var since time.Time
	if m.LastReadMessageID != 0 {
		last, err := a.store.GetMessage(ctx, m.LastReadMessageID)
		switch {
		case err == nil:
			since = last.CreatedAt
		case errors.Is(err, apperr.ErrNotFound):
			since = snowflake.Time(m.LastReadMessageID)
		default:
			return 0, err
		}
	}
	return a.store.CountMessagesSince(ctx, conversationID, userID, since)
}

func (a *Aggregator) requireMember(ctx context.Context, conversationID, userID string) error {
	if _, err := a.store.GetMember(ctx, conversationID, userID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Authorization("not a member of this conversation")
		}
		return err
	}
	return nil
}
