package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wedding-invites/internal/models"
)

const inviteCoreColumns = `id, tenant_id, household_id, guest_id, token, token_hash, channel, status, uses_count, used_at, sent_at, created_at, updated_at`

// inviteColumns selects the optional columns as NULL when the schema lacks
// them, so legacy rows scan into the same struct.
func (q Queries) inviteColumns() string {
	cols := inviteCoreColumns
	if q.caps.InviteLimits {
		cols += ", max_uses, expires_at"
	} else {
		cols += ", NULL AS max_uses, NULL AS expires_at"
	}
	if q.caps.InviteRevocation {
		cols += ", revoked_at, revoked_reason"
	} else {
		cols += ", NULL AS revoked_at, NULL AS revoked_reason"
	}
	return cols
}

// InsertInvite adds a new invite. Limit and revocation columns are written
// only when the schema carries them.
func (q Queries) InsertInvite(ctx context.Context, inv *models.Invite) error {
	cols := []string{"id", "tenant_id", "household_id", "guest_id", "token", "token_hash", "channel", "status", "uses_count", "used_at", "sent_at", "created_at", "updated_at"}
	args := []any{inv.ID, inv.TenantID, inv.HouseholdID, inv.GuestID, inv.Token, inv.TokenHash, inv.Channel, inv.Status, inv.UsesCount, inv.UsedAt, inv.SentAt, inv.CreatedAt, inv.UpdatedAt}
	if q.caps.InviteLimits {
		cols = append(cols, "max_uses", "expires_at")
		args = append(args, inv.MaxUses, inv.ExpiresAt)
	}
	if q.caps.InviteRevocation {
		cols = append(cols, "revoked_at", "revoked_reason")
		args = append(args, inv.RevokedAt, inv.RevokedReason)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := `INSERT INTO invites (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders + `)`
	if _, err := q.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by id regardless of tenant
func (q Queries) GetInvite(ctx context.Context, id string) (*models.Invite, error) {
	var inv models.Invite
	if err := q.get(ctx, &inv, `SELECT `+q.inviteColumns()+` FROM invites WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInviteByTokenHash retrieves an invite by the hash of its bearer token
func (q Queries) GetInviteByTokenHash(ctx context.Context, hash string) (*models.Invite, error) {
	var inv models.Invite
	if err := q.get(ctx, &inv, `SELECT `+q.inviteColumns()+` FROM invites WHERE token_hash = ?`, hash); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListHouseholdInvites returns a household's invites, newest first
func (q Queries) ListHouseholdInvites(ctx context.Context, tenantID, householdID string) ([]models.Invite, error) {
	var invites []models.Invite
	err := q.list(ctx, &invites,
		`SELECT `+q.inviteColumns()+` FROM invites WHERE tenant_id = ? AND household_id = ? ORDER BY created_at DESC`,
		tenantID, householdID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	return invites, nil
}

// LockInvite reads an invite and holds its row lock until the transaction
// ends. Callers that also lock a guest must lock the guest first.
func (t *Tx) LockInvite(ctx context.Context, id string) (*models.Invite, error) {
	var inv models.Invite
	if err := t.get(ctx, &inv, `SELECT `+t.inviteColumns()+` FROM invites WHERE id = ?`+t.forUpdate(), id); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ResetInvite persists a reissued invite: new token, counters and
// revocation cleared, limits re-applied.
func (q Queries) ResetInvite(ctx context.Context, inv *models.Invite) error {
	sets := []string{"token = ?", "token_hash = ?", "status = ?", "uses_count = ?", "used_at = ?", "sent_at = ?", "updated_at = ?"}
	args := []any{inv.Token, inv.TokenHash, inv.Status, inv.UsesCount, inv.UsedAt, inv.SentAt, inv.UpdatedAt}
	if q.caps.InviteLimits {
		sets = append(sets, "max_uses = ?", "expires_at = ?")
		args = append(args, inv.MaxUses, inv.ExpiresAt)
	}
	if q.caps.InviteRevocation {
		sets = append(sets, "revoked_at = ?", "revoked_reason = ?")
		args = append(args, inv.RevokedAt, inv.RevokedReason)
	}
	args = append(args, inv.ID)

	if err := q.execOne(ctx, `UPDATE invites SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("failed to reset invite %s: %w", inv.ID, err)
	}
	return nil
}

// RevokeInvite marks an invite revoked. The caller checks the capability.
func (q Queries) RevokeInvite(ctx context.Context, id, reason string, at time.Time) error {
	err := q.execOne(ctx,
		`UPDATE invites SET status = ?, revoked_at = ?, revoked_reason = ?, updated_at = ? WHERE id = ?`,
		models.InviteRevoked, at, reason, at, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invite %s: %w", id, err)
	}
	return nil
}

// IncrementInviteUse records one more use of an invite
func (q Queries) IncrementInviteUse(ctx context.Context, id string, at time.Time) error {
	err := q.execOne(ctx,
		`UPDATE invites SET uses_count = uses_count + 1, used_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("failed to record use of invite %s: %w", id, err)
	}
	return nil
}

// UpdateInviteStatus moves an invite to a new lifecycle status
func (q Queries) UpdateInviteStatus(ctx context.Context, id string, status models.InviteStatus, at time.Time) error {
	err := q.execOne(ctx, `UPDATE invites SET status = ?, updated_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return fmt.Errorf("failed to update status of invite %s: %w", id, err)
	}
	return nil
}

// ExpireInvite marks an invite expired and, where the schema allows, stamps
// expires_at so the usability check agrees with the status.
func (q Queries) ExpireInvite(ctx context.Context, id string, at time.Time) error {
	if !q.caps.InviteLimits {
		return q.UpdateInviteStatus(ctx, id, models.InviteExpired, at)
	}
	err := q.execOne(ctx,
		`UPDATE invites SET status = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		models.InviteExpired, at, at, id)
	if err != nil {
		return fmt.Errorf("failed to expire invite %s: %w", id, err)
	}
	return nil
}
