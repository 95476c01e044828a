package model

import "time"

type ReceiptStatus string

const (
	ReceiptSent      ReceiptStatus = "SENT"
	ReceiptDelivered ReceiptStatus = "DELIVERED"
	ReceiptRead      ReceiptStatus = "READ"
)

var receiptRank = map[ReceiptStatus]int{
	ReceiptSent:      1,
	ReceiptDelivered: 2,
	ReceiptRead:      3,
}

func (s ReceiptStatus) Rank() int { return receiptRank[s] }

func (s ReceiptStatus) Valid() bool {
	_, ok := receiptRank[s]
	return ok
}

// Advances reports whether moving from s to next is a forward transition.
func (s ReceiptStatus) Advances(next ReceiptStatus) bool { return next.Rank() > s.Rank() }

// ReceiptStatusFromRank is the inverse of Rank for storage adapters.
func ReceiptStatusFromRank(rank int) ReceiptStatus {
	for s, r := range receiptRank {
		if r == rank {
			return s
		}
	}
	return ""
}

type Receipt struct {
	MessageID int64         `json:"message_id"`
	UserID    string        `json:"user_id"`
	Status    ReceiptStatus `json:"status"`
	SeenAt    *time.Time    `json:"seen_at,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
