package models

import "time"

// AuditEntry is one immutable line of the audit log
type AuditEntry struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	ActorID   *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Context   JSONMap   `db:"context" json:"context"`
	InviteID  *string   `db:"invite_id" json:"-"`
	EventID   *string   `db:"event_id" json:"-"`
	GuestID   *string   `db:"guest_id" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DeliveryStatus is the outcome of one delivery attempt
type DeliveryStatus string

const (
	DeliveryQueued DeliveryStatus = "queued"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryLog records one attempt to deliver an invite over a channel
type DeliveryLog struct {
	ID        string         `db:"id" json:"id"`
	TenantID  string         `db:"tenant_id" json:"tenant_id"`
	InviteID  *string        `db:"invite_id" json:"invite_id,omitempty"`
	Channel   Channel        `db:"channel" json:"channel"`
	Recipient string         `db:"recipient" json:"recipient"`
	Status    DeliveryStatus `db:"status" json:"status"`
	Payload   JSONMap        `db:"payload" json:"payload"`
	Error     string         `db:"error" json:"error,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
