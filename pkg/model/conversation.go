package model

import "time"

type ConversationKind string

const (
	KindDirect  ConversationKind = "DIRECT"
	KindGroup   ConversationKind = "GROUP"
	KindChannel ConversationKind = "CHANNEL"
)

type Conversation struct {
	ID        string           `json:"id"`
	Kind      ConversationKind `json:"kind"`
	Name      string           `json:"name,omitempty"`
	Public    bool             `json:"public"`
	ReadOnly  bool             `json:"read_only"`
	OwnerID   string           `json:"owner_id"`
	CreatedAt time.Time        `json:"created_at"`
}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// RoleRank is the only place role authority is defined. Every comparison
// between roles goes through it.
var RoleRank = map[Role]int{
	RoleOwner:  3,
	RoleAdmin:  2,
	RoleMember: 0,
}

func (r Role) Rank() int { return RoleRank[r] }

func (r Role) Valid() bool {
	_, ok := RoleRank[r]
	return ok
}

// Outranks reports whether r holds strictly more authority than other.
func (r Role) Outranks(other Role) bool { return r.Rank() > other.Rank() }

// AtLeast reports whether r holds at least the authority of min.
func (r Role) AtLeast(min Role) bool { return r.Rank() >= min.Rank() }

// Elevated is true for ADMIN and OWNER.
func (r Role) Elevated() bool { return r.AtLeast(RoleAdmin) }

type Membership struct {
	ConversationID    string    `json:"conversation_id"`
	UserID            string    `json:"user_id"`
	Role              Role      `json:"role"`
	LastReadMessageID int64     `json:"last_read_message_id,omitempty"`
	JoinedAt          time.Time `json:"joined_at"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

type Invitation struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	InviterID      string           `json:"inviter_id"`
	RecipientID    string           `json:"recipient_id"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Expired reports whether the invitation can no longer be answered.
func (i Invitation) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}
