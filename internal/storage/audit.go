package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wedding-invites/internal/models"
)

const auditColumns = `id, tenant_id, actor_id, action, context, invite_id, event_id, guest_id, created_at`

const deliveryColumns = `id, tenant_id, invite_id, channel, recipient, status, payload, error, created_at`

// InsertAudit appends an audit entry. There is no update or delete.
func (q Queries) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	_, err := q.exec(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.ActorID, e.Action, e.Context, e.InviteID, e.EventID, e.GuestID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAuditByInvite returns the audit entries of one invite, oldest first
func (q Queries) ListAuditByInvite(ctx context.Context, tenantID, inviteID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := q.list(ctx, &entries,
		`SELECT `+auditColumns+` FROM audit_logs WHERE tenant_id = ? AND invite_id = ? ORDER BY created_at`,
		tenantID, inviteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries of invite %s: %w", inviteID, err)
	}
	return entries, nil
}

// ListAuditByEvent returns the audit entries of one event, oldest first
func (q Queries) ListAuditByEvent(ctx context.Context, tenantID, eventID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := q.list(ctx, &entries,
		`SELECT `+auditColumns+` FROM audit_logs WHERE tenant_id = ? AND event_id = ? ORDER BY created_at`,
		tenantID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries of event %s: %w", eventID, err)
	}
	return entries, nil
}

// ListAuditByAction returns a tenant's entries for one action, oldest first
func (q Queries) ListAuditByAction(ctx context.Context, tenantID, action string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := q.list(ctx, &entries,
		`SELECT `+auditColumns+` FROM audit_logs WHERE tenant_id = ? AND action = ? ORDER BY created_at`,
		tenantID, action)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s audit entries: %w", action, err)
	}
	return entries, nil
}

// ListAuditSince returns a tenant's entries for an action at or after since,
// oldest first. A non-empty eventID keeps only that event's entries.
func (q Queries) ListAuditSince(ctx context.Context, tenantID, action, eventID string, since time.Time) ([]models.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE tenant_id = ? AND action = ? AND created_at >= ?`
	args := []any{tenantID, action, since}
	if eventID != "" {
		query += ` AND event_id = ?`
		args = append(args, eventID)
	}
	var entries []models.AuditEntry
	if err := q.list(ctx, &entries, query+` ORDER BY created_at`, args...); err != nil {
		return nil, fmt.Errorf("failed to list %s audit entries: %w", action, err)
	}
	return entries, nil
}

// InsertDelivery records one delivery attempt
func (q Queries) InsertDelivery(ctx context.Context, d *models.DeliveryLog) error {
	_, err := q.exec(ctx,
		`INSERT INTO delivery_logs (`+deliveryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.InviteID, d.Channel, d.Recipient, d.Status, d.Payload, d.Error, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return nil
}

// ListDeliveriesByInvite returns the delivery attempts of one invite, oldest first
func (q Queries) ListDeliveriesByInvite(ctx context.Context, tenantID, inviteID string) ([]models.DeliveryLog, error) {
	var logs []models.DeliveryLog
	err := q.list(ctx, &logs,
		`SELECT `+deliveryColumns+` FROM delivery_logs WHERE tenant_id = ? AND invite_id = ? ORDER BY created_at`,
		tenantID, inviteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries of invite %s: %w", inviteID, err)
	}
	return logs, nil
}

// DeliveryFilter selects failed deliveries for a batch retry
type DeliveryFilter struct {
	Channel models.Channel
	// From and To bound created_at; zero values leave that side open.
	From  time.Time
	To    time.Time
	Limit int
}

// ListFailedDeliveries returns failed deliveries over one channel, newest first
func (q Queries) ListFailedDeliveries(ctx context.Context, tenantID string, f DeliveryFilter) ([]models.DeliveryLog, error) {
	conds := []string{"tenant_id = ?", "channel = ?", "status = ?"}
	args := []any{tenantID, f.Channel, models.DeliveryFailed}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + deliveryColumns + ` FROM delivery_logs WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var logs []models.DeliveryLog
	if err := q.list(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	return logs, nil
}
