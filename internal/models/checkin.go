package models

import "time"

// Method is how an arrival was registered
type Method string

const (
	MethodQR     Method = "qr"
	MethodManual Method = "manual"
)

// Valid reports whether m is a known check-in method
func (m Method) Valid() bool {
	return m == MethodQR || m == MethodManual
}

// CheckIn records a guest's arrival, optionally at one event
type CheckIn struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	GuestID     string    `db:"guest_id" json:"guest_id"`
	EventID     *string   `db:"event_id" json:"event_id,omitempty"`
	EventKey    string    `db:"event_key" json:"-"`
	OperatorID  *string   `db:"operator_id" json:"operator_id,omitempty"`
	Method      Method    `db:"method" json:"method"`
	DeviceID    string    `db:"device_id" json:"device_id,omitempty"`
	Notes       string    `db:"notes" json:"notes,omitempty"`
	CheckedInAt time.Time `db:"checked_in_at" json:"checked_in_at"`
}
