package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wedding-invites/internal/models"
)

const householdColumns = `id, tenant_id, name, max_guests, table_label, created_at, updated_at`

const guestColumns = `id, tenant_id, household_id, name, email, phone, is_child, overall_rsvp_status, created_at, updated_at`

// InsertHousehold adds a new household
func (q Queries) InsertHousehold(ctx context.Context, h *models.Household) error {
	_, err := q.exec(ctx,
		`INSERT INTO households (`+householdColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TenantID, h.Name, h.MaxGuests, h.TableLabel, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert household: %w", err)
	}
	return nil
}

// GetHousehold retrieves a household by id
func (q Queries) GetHousehold(ctx context.Context, id string) (*models.Household, error) {
	var h models.Household
	if err := q.get(ctx, &h, `SELECT `+householdColumns+` FROM households WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &h, nil
}

// CountHouseholdGuests returns how many guests belong to a household
func (q Queries) CountHouseholdGuests(ctx context.Context, householdID string) (int, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM guests WHERE household_id = ?`, householdID); err != nil {
		return 0, fmt.Errorf("failed to count household guests: %w", err)
	}
	return n, nil
}

// InsertGuest adds a new guest
func (q Queries) InsertGuest(ctx context.Context, g *models.Guest) error {
	_, err := q.exec(ctx,
		`INSERT INTO guests (`+guestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.TenantID, g.HouseholdID, g.Name, g.Email, g.Phone, g.IsChild, g.OverallRSVPStatus, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert guest: %w", err)
	}
	return nil
}

// GetGuest retrieves a guest by id regardless of tenant; callers compare
// TenantID themselves so a mismatch can be reported distinctly.
func (q Queries) GetGuest(ctx context.Context, id string) (*models.Guest, error) {
	var g models.Guest
	if err := q.get(ctx, &g, `SELECT `+guestColumns+` FROM guests WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &g, nil
}

// FindGuestByContact looks up the oldest guest of a tenant matching a
// normalized email or phone. Empty values are ignored.
func (q Queries) FindGuestByContact(ctx context.Context, tenantID, email, phone string) (*models.Guest, error) {
	var conds []string
	args := []any{tenantID}
	if email != "" {
		conds = append(conds, "email = ?")
		args = append(args, email)
	}
	if phone != "" {
		conds = append(conds, "phone = ?")
		args = append(args, phone)
	}
	if len(conds) == 0 {
		return nil, ErrNotFound
	}

	var g models.Guest
	query := `SELECT ` + guestColumns + ` FROM guests WHERE tenant_id = ? AND (` + strings.Join(conds, " OR ") + `) ORDER BY created_at LIMIT 1`
	if err := q.get(ctx, &g, query, args...); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListHouseholdGuests returns the guests of a household in creation order
func (q Queries) ListHouseholdGuests(ctx context.Context, householdID string) ([]models.Guest, error) {
	var guests []models.Guest
	err := q.list(ctx, &guests, `SELECT `+guestColumns+` FROM guests WHERE household_id = ? ORDER BY created_at`, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list household guests: %w", err)
	}
	return guests, nil
}

// UpdateGuestOverallStatus stores the derived overall RSVP status
func (q Queries) UpdateGuestOverallStatus(ctx context.Context, id string, status models.RSVPStatus, at time.Time) error {
	err := q.execOne(ctx, `UPDATE guests SET overall_rsvp_status = ?, updated_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return fmt.Errorf("failed to update overall status of guest %s: %w", id, err)
	}
	return nil
}

// LockGuest reads a guest and holds its row lock until the transaction ends.
func (t *Tx) LockGuest(ctx context.Context, id string) (*models.Guest, error) {
	var g models.Guest
	if err := t.get(ctx, &g, `SELECT `+guestColumns+` FROM guests WHERE id = ?`+t.forUpdate(), id); err != nil {
		return nil, err
	}
	return &g, nil
}
