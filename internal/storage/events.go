package storage

import (
	"context"
	"fmt"

	"wedding-invites/internal/models"
)

const eventColumns = `id, tenant_id, slug, name, is_active, access_mode, questions, opens_at, closes_at, created_at`

const rsvpColumns = `id, tenant_id, guest_id, event_id, status, answers, responded_at, created_at, updated_at`

// InsertEvent adds a new RSVP event
func (q Queries) InsertEvent(ctx context.Context, e *models.Event) error {
	_, err := q.exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Slug, e.Name, e.Active, e.AccessMode, e.Questions, e.OpensAt, e.ClosesAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by id regardless of tenant
func (q Queries) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	if err := q.get(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEventBySlug retrieves an event of a tenant by slug
func (q Queries) GetEventBySlug(ctx context.Context, tenantID, slug string) (*models.Event, error) {
	var e models.Event
	if err := q.get(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE tenant_id = ? AND slug = ?`, tenantID, slug); err != nil {
		return nil, err
	}
	return &e, nil
}

// SetEventActive toggles whether an event accepts RSVPs and check-ins
func (q Queries) SetEventActive(ctx context.Context, id string, active bool) error {
	if err := q.execOne(ctx, `UPDATE events SET is_active = ? WHERE id = ?`, active, id); err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	return nil
}

// UpsertRSVP inserts the RSVP of (guest, event) or overwrites the existing
// one, then returns the stored row.
func (q Queries) UpsertRSVP(ctx context.Context, r *models.RSVP) (*models.RSVP, error) {
	_, err := q.exec(ctx, `
		INSERT INTO rsvps (`+rsvpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guest_id, event_id) DO UPDATE SET
			status = excluded.status,
			answers = excluded.answers,
			responded_at = excluded.responded_at,
			updated_at = excluded.updated_at`,
		r.ID, r.TenantID, r.GuestID, r.EventID, r.Status, r.Answers, r.RespondedAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert rsvp: %w", err)
	}
	return q.GetRSVP(ctx, r.GuestID, r.EventID)
}

// GetRSVP retrieves the RSVP of a guest for an event
func (q Queries) GetRSVP(ctx context.Context, guestID, eventID string) (*models.RSVP, error) {
	var r models.RSVP
	if err := q.get(ctx, &r, `SELECT `+rsvpColumns+` FROM rsvps WHERE guest_id = ? AND event_id = ?`, guestID, eventID); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListGuestRSVPStatuses returns the status of every RSVP a guest holds
func (q Queries) ListGuestRSVPStatuses(ctx context.Context, guestID string) ([]models.RSVPStatus, error) {
	var statuses []models.RSVPStatus
	if err := q.list(ctx, &statuses, `SELECT status FROM rsvps WHERE guest_id = ? ORDER BY responded_at`, guestID); err != nil {
		return nil, fmt.Errorf("failed to list rsvps of guest %s: %w", guestID, err)
	}
	return statuses, nil
}

// CountRSVPs counts the RSVP rows of a (guest, event) pair
func (q Queries) CountRSVPs(ctx context.Context, guestID, eventID string) (int, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM rsvps WHERE guest_id = ? AND event_id = ?`, guestID, eventID); err != nil {
		return 0, fmt.Errorf("failed to count rsvps: %w", err)
	}
	return n, nil
}
