package models

import "time"

// Channel is the transport an invite is delivered over
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelSMS:
		return true
	}
	return false
}

// InviteStatus is the lifecycle state of an invite
type InviteStatus string

const (
	InviteSent      InviteStatus = "sent"
	InviteDelivered InviteStatus = "delivered"
	InviteOpened    InviteStatus = "opened"
	InviteExpired   InviteStatus = "expired"
	InviteRevoked   InviteStatus = "revoked"
)

// Block reasons shared by token resolution and retries
const (
	BlockNotFound  = "not found"
	BlockRevoked   = "revoked"
	BlockExpired   = "expired"
	BlockExhausted = "exhausted"
)

// Invite is a bearer-token credential letting a household (or one pinned
// guest) submit RSVPs.
type Invite struct {
	ID            string       `db:"id" json:"id"`
	TenantID      string       `db:"tenant_id" json:"tenant_id"`
	HouseholdID   string       `db:"household_id" json:"household_id"`
	GuestID       *string      `db:"guest_id" json:"guest_id,omitempty"`
	Token         string       `db:"token" json:"-"`
	TokenHash     string       `db:"token_hash" json:"-"`
	Channel       Channel      `db:"channel" json:"channel"`
	Status        InviteStatus `db:"status" json:"status"`
	UsesCount     int          `db:"uses_count" json:"uses_count"`
	MaxUses       *int         `db:"max_uses" json:"max_uses,omitempty"`
	ExpiresAt     *time.Time   `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt     *time.Time   `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason *string      `db:"revoked_reason" json:"revoked_reason,omitempty"`
	UsedAt        *time.Time   `db:"used_at" json:"used_at,omitempty"`
	SentAt        time.Time    `db:"sent_at" json:"sent_at"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// IsRevoked returns true once the invite has been revoked
func (i *Invite) IsRevoked() bool {
	return i.RevokedAt != nil
}

// IsExpired returns true if the invite has an expiry at or before now
func (i *Invite) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// IsExhausted returns true if the invite has no uses left
func (i *Invite) IsExhausted() bool {
	return i.MaxUses != nil && i.UsesCount >= *i.MaxUses
}

// BlockReason returns why the invite cannot be used at now, or "" if it can.
// A nil invite is reported as not found. The status is checked too:
// schemas without the limit or revocation columns record only the status.
func (i *Invite) BlockReason(now time.Time) string {
	switch {
	case i == nil:
		return BlockNotFound
	case i.IsRevoked() || i.Status == InviteRevoked:
		return BlockRevoked
	case i.IsExpired(now) || i.Status == InviteExpired:
		return BlockExpired
	case i.IsExhausted():
		return BlockExhausted
	}
	return ""
}

// Usable reports whether the invite can still be used at now
func (i *Invite) Usable(now time.Time) bool {
	return i.BlockReason(now) == ""
}
