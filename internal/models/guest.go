package models

import "time"

// Household represents a named group of guests belonging to one wedding
type Household struct {
	ID         string    `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	MaxGuests  *int      `db:"max_guests" json:"max_guests,omitempty"`
	TableLabel string    `db:"table_label" json:"table_label,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Guest represents a wedding guest
type Guest struct {
	ID                string     `db:"id" json:"id"`
	TenantID          string     `db:"tenant_id" json:"tenant_id"`
	HouseholdID       *string    `db:"household_id" json:"household_id,omitempty"`
	Name              string     `db:"name" json:"name"`
	Email             string     `db:"email" json:"email,omitempty"`
	Phone             string     `db:"phone" json:"phone,omitempty"`
	IsChild           bool       `db:"is_child" json:"is_child"`
	OverallRSVPStatus RSVPStatus `db:"overall_rsvp_status" json:"overall_rsvp_status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// RSVPStatus represents the attendance confirmation status
type RSVPStatus string

const (
	RSVPConfirmed  RSVPStatus = "confirmed"
	RSVPDeclined   RSVPStatus = "declined"
	RSVPMaybe      RSVPStatus = "maybe"
	RSVPNoResponse RSVPStatus = "no_response"
)

// Submittable reports whether a guest may submit this status. no_response is
// only ever a derived or initial value.
func (s RSVPStatus) Submittable() bool {
	switch s {
	case RSVPConfirmed, RSVPDeclined, RSVPMaybe:
		return true
	}
	return false
}

// RSVP is the single response of one guest to one event
type RSVP struct {
	ID          string     `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	GuestID     string     `db:"guest_id" json:"guest_id"`
	EventID     string     `db:"event_id" json:"event_id"`
	Status      RSVPStatus `db:"status" json:"status"`
	Answers     JSONMap    `db:"answers" json:"answers"`
	RespondedAt time.Time  `db:"responded_at" json:"responded_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
