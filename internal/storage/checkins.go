package storage

import (
	"context"
	"fmt"
	"strings"

	"wedding-invites/internal/models"
)

const checkInColumns = `id, tenant_id, guest_id, event_id, event_key, operator_id, method, device_id, notes, checked_in_at`

// CheckInRow is a check-in joined with the names an operator needs to see
type CheckInRow struct {
	models.CheckIn
	GuestName string  `db:"guest_name" json:"guest_name"`
	EventName *string `db:"event_name" json:"event_name,omitempty"`
}

// CheckInFilter narrows ListCheckIns
type CheckInFilter struct {
	EventID string
	Method  models.Method
	// Search matches guest names case-insensitively.
	Search string
}

// InsertCheckIn adds a new check-in
func (q Queries) InsertCheckIn(ctx context.Context, c *models.CheckIn) error {
	_, err := q.exec(ctx,
		`INSERT INTO checkins (`+checkInColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.GuestID, c.EventID, c.EventKey, c.OperatorID, c.Method, c.DeviceID, c.Notes, c.CheckedInAt)
	if err != nil {
		return fmt.Errorf("failed to insert check-in: %w", err)
	}
	return nil
}

// FindLatestCheckIn returns the most recent check-in of a guest for an event
// key ("" meaning no event).
func (q Queries) FindLatestCheckIn(ctx context.Context, guestID, eventKey string) (*models.CheckIn, error) {
	var c models.CheckIn
	err := q.get(ctx, &c,
		`SELECT `+checkInColumns+` FROM checkins WHERE guest_id = ? AND event_key = ? ORDER BY checked_in_at DESC LIMIT 1`,
		guestID, eventKey)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountCheckIns counts the rows of a (guest, event key) pair
func (q Queries) CountCheckIns(ctx context.Context, guestID, eventKey string) (int, error) {
	var n int
	if err := q.get(ctx, &n, `SELECT COUNT(*) FROM checkins WHERE guest_id = ? AND event_key = ?`, guestID, eventKey); err != nil {
		return 0, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return n, nil
}

// ListCheckIns returns a tenant's check-ins, newest first
func (q Queries) ListCheckIns(ctx context.Context, tenantID string, f CheckInFilter) ([]CheckInRow, error) {
	conds := []string{"c.tenant_id = ?"}
	args := []any{tenantID}
	if f.EventID != "" {
		conds = append(conds, "c.event_id = ?")
		args = append(args, f.EventID)
	}
	if f.Method != "" {
		conds = append(conds, "c.method = ?")
		args = append(args, f.Method)
	}
	if f.Search != "" {
		conds = append(conds, "LOWER(g.name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}

	query := `SELECT c.id, c.tenant_id, c.guest_id, c.event_id, c.event_key, c.operator_id, c.method, c.device_id, c.notes, c.checked_in_at,
			g.name AS guest_name, e.name AS event_name
		FROM checkins c
		JOIN guests g ON g.id = c.guest_id
		LEFT JOIN events e ON e.id = c.event_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY c.checked_in_at DESC`

	var rows []CheckInRow
	if err := q.list(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return rows, nil
}
