// Package invites owns the invite lifecycle: creation, reissue, revocation,
// status transitions and bearer-token resolution.
package invites

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/audit"
	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/token"
)

// CreateData describes a new invite
type CreateData struct {
	// GuestID pins the invite to one guest of the household.
	GuestID   string
	Channel   models.Channel
	MaxUses   *int
	ExpiresAt *time.Time
}

// ReissueData overrides limits on reissue. A nil MaxUses keeps the current
// limit; a nil ExpiresAt keeps the current expiry unless it has passed.
type ReissueData struct {
	MaxUses   *int
	ExpiresAt *time.Time
}

// Manager creates and mutates invites
type Manager struct {
	store *storage.Store
	audit *audit.Writer
	caps  storage.Capabilities
	log   zerolog.Logger
	now   func() time.Time
}

// NewManager creates a manager. caps is what the schema supports, detected
// once at startup.
func NewManager(store *storage.Store, auditor *audit.Writer, caps storage.Capabilities, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		audit: auditor,
		caps:  caps,
		log:   log.With().Str("component", "invites").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CheckUsable reports why inv cannot be used at now as a caller-facing error
func CheckUsable(inv *models.Invite, now time.Time) error {
	switch inv.BlockReason(now) {
	case models.BlockNotFound:
		return apperr.NotFound(apperr.ReasonNotFound, "invite not found")
	case models.BlockRevoked:
		return apperr.Gone(apperr.ReasonRevoked, "invite has been revoked")
	case models.BlockExpired:
		return apperr.Gone(apperr.ReasonExpired, "invite has expired")
	case models.BlockExhausted:
		return apperr.Conflict(apperr.ReasonExhausted, "invite has no uses left")
	}
	return nil
}

// Create issues a new invite for a household
func (m *Manager) Create(ctx context.Context, tenantID, householdID string, data CreateData, actorID string) (*models.Invite, error) {
	if !data.Channel.Valid() {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "channel", "unknown channel %q", data.Channel)
	}
	if data.MaxUses != nil && *data.MaxUses < 1 {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "max_uses", "max uses must be at least 1")
	}

	tok, err := token.GenerateInviteToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	inv := &models.Invite{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		HouseholdID: householdID,
		Token:       tok,
		TokenHash:   token.HashToken(tok),
		Channel:     data.Channel,
		Status:      models.InviteSent,
		SentAt:      now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.applyLimits(inv, data.MaxUses, data.ExpiresAt)

	err = m.store.WithTx(ctx, func(tx *storage.Tx) error {
		household, err := tx.GetHousehold(ctx, householdID)
		if err != nil {
			return notFound(err, "household")
		}
		if household.TenantID != tenantID {
			return apperr.NotFound(apperr.ReasonTenantMismatch, "household not found")
		}

		if data.GuestID != "" {
			guest, err := tx.GetGuest(ctx, data.GuestID)
			if err != nil {
				return notFound(err, "guest")
			}
			if guest.TenantID != household.TenantID {
				return apperr.InvalidField(apperr.ReasonTenantMismatch, "guest_id", "guest does not belong to this wedding")
			}
			inv.GuestID = &guest.ID
		}

		if err := tx.InsertInvite(ctx, inv); err != nil {
			return err
		}

		c := map[string]any{
			audit.KeyInviteID: inv.ID,
			"household_id":    householdID,
			"channel":         string(inv.Channel),
		}
		if inv.GuestID != nil {
			c[audit.KeyGuestID] = *inv.GuestID
		}
		addLimits(c, inv)
		_, err = m.audit.Record(ctx, tx, audit.Entry{TenantID: tenantID, ActorID: actorID, Action: audit.InviteCreated, Context: c})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().Str("tenant_id", tenantID).Str("invite_id", inv.ID).Str("channel", string(inv.Channel)).Msg("Invite created")
	return inv, nil
}

// Reissue gives an invite a fresh token and clears its use and revocation
// state. It is the only way back from revoked or exhausted. Reissuing an
// invite that is still usable is allowed.
func (m *Manager) Reissue(ctx context.Context, tenantID, inviteID string, data ReissueData, actorID string) (*models.Invite, error) {
	if data.MaxUses != nil && *data.MaxUses < 1 {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "max_uses", "max uses must be at least 1")
	}

	tok, err := token.GenerateInviteToken()
	if err != nil {
		return nil, err
	}

	var inv *models.Invite
	err = m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		inv, err = m.lockOwned(ctx, tx, tenantID, inviteID)
		if err != nil {
			return err
		}

		now := m.now()
		wasUsable := inv.Usable(now)
		previous := inv.Status
		previousUses := inv.UsesCount

		maxUses := inv.MaxUses
		if data.MaxUses != nil {
			maxUses = data.MaxUses
		}
		expiresAt := inv.ExpiresAt
		if data.ExpiresAt != nil {
			expiresAt = data.ExpiresAt
		} else if inv.IsExpired(now) {
			expiresAt = nil
		}

		inv.Token = tok
		inv.TokenHash = token.HashToken(tok)
		inv.Status = models.InviteSent
		inv.UsesCount = 0
		inv.UsedAt = nil
		inv.RevokedAt = nil
		inv.RevokedReason = nil
		inv.SentAt = now
		inv.UpdatedAt = now
		m.applyLimits(inv, maxUses, expiresAt)

		if err := tx.ResetInvite(ctx, inv); err != nil {
			return err
		}

		c := map[string]any{
			audit.KeyInviteID: inv.ID,
			"previous_status": string(previous),
			"previous_uses":   previousUses,
			"was_usable":      wasUsable,
		}
		addLimits(c, inv)
		_, err = m.audit.Record(ctx, tx, audit.Entry{TenantID: tenantID, ActorID: actorID, Action: audit.InviteReissued, Context: c})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().Str("tenant_id", tenantID).Str("invite_id", inviteID).Msg("Invite reissued")
	return inv, nil
}

// Revoke makes an invite permanently unusable until reissued. Revoking an
// already revoked invite returns it unchanged.
func (m *Manager) Revoke(ctx context.Context, tenantID, inviteID, reason, actorID string) (*models.Invite, error) {
	if !m.caps.InviteRevocation {
		return nil, &apperr.UnsupportedError{Operation: "revoke invite", Missing: "invites.revoked_at"}
	}
	reason = strings.TrimSpace(reason)

	var inv *models.Invite
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		inv, err = m.lockOwned(ctx, tx, tenantID, inviteID)
		if err != nil {
			return err
		}
		if inv.IsRevoked() {
			return nil
		}

		now := m.now()
		if err := tx.RevokeInvite(ctx, inv.ID, reason, now); err != nil {
			return err
		}
		inv.Status = models.InviteRevoked
		inv.RevokedAt = &now
		inv.RevokedReason = &reason
		inv.UpdatedAt = now

		_, err = m.audit.Record(ctx, tx, audit.Entry{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   audit.InviteRevoked,
			Context:  map[string]any{audit.KeyInviteID: inv.ID, "reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().Str("tenant_id", tenantID).Str("invite_id", inviteID).Str("reason", reason).Msg("Invite revoked")
	return inv, nil
}

// transitions lists the statuses reachable from each status. Revocation goes
// through Revoke and leaving revoked or expired goes through Reissue.
var transitions = map[models.InviteStatus][]models.InviteStatus{
	models.InviteSent:      {models.InviteDelivered, models.InviteOpened, models.InviteExpired},
	models.InviteDelivered: {models.InviteOpened, models.InviteExpired},
	models.InviteOpened:    {models.InviteExpired},
}

// Transition moves an invite along its lifecycle. Moving to the current
// status is a no-op.
func (m *Manager) Transition(ctx context.Context, tenantID, inviteID string, to models.InviteStatus, actorID string) (*models.Invite, error) {
	if to == models.InviteRevoked {
		return nil, apperr.InvalidField(apperr.ReasonBadTransition, "status", "use revoke to revoke an invite")
	}

	var inv *models.Invite
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		inv, err = m.lockOwned(ctx, tx, tenantID, inviteID)
		if err != nil {
			return err
		}
		if inv.Status == to {
			return nil
		}
		if !allowed(inv.Status, to) {
			return apperr.Conflict(apperr.ReasonBadTransition, "invite cannot move from %s to %s", inv.Status, to)
		}
		return m.apply(ctx, tx, inv, to, actorID)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkDelivered moves a sent invite to delivered within tx, so the status
// commits with the caller's delivery records. An invite already past sent
// is returned unchanged.
func (m *Manager) MarkDelivered(ctx context.Context, tx *storage.Tx, tenantID, inviteID, actorID string) (*models.Invite, error) {
	inv, err := m.lockOwned(ctx, tx, tenantID, inviteID)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InviteSent {
		return inv, nil
	}
	if err := m.apply(ctx, tx, inv, models.InviteDelivered, actorID); err != nil {
		return nil, err
	}
	return inv, nil
}

// apply writes an allowed status change of a locked invite and audits it
func (m *Manager) apply(ctx context.Context, tx *storage.Tx, inv *models.Invite, to models.InviteStatus, actorID string) error {
	from := inv.Status
	now := m.now()
	var err error
	if to == models.InviteExpired {
		err = tx.ExpireInvite(ctx, inv.ID, now)
		if m.caps.InviteLimits {
			inv.ExpiresAt = &now
		}
	} else {
		err = tx.UpdateInviteStatus(ctx, inv.ID, to, now)
	}
	if err != nil {
		return err
	}
	inv.Status = to
	inv.UpdatedAt = now

	_, err = m.audit.Record(ctx, tx, audit.Entry{
		TenantID: inv.TenantID,
		ActorID:  actorID,
		Action:   audit.InviteStatusChanged,
		Context:  map[string]any{audit.KeyInviteID: inv.ID, "from": string(from), "to": string(to)},
	})
	return err
}

func allowed(from, to models.InviteStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResolveToken finds the invite behind a bearer token and checks that it
// belongs to tenantID and is usable now.
func (m *Manager) ResolveToken(ctx context.Context, tenantID, tok string) (*models.Invite, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "token", "invite token is required")
	}

	inv, err := m.store.GetInviteByTokenHash(ctx, token.HashToken(tok))
	if err != nil {
		return nil, notFound(err, "invite")
	}
	if inv.TenantID != tenantID {
		m.log.Warn().Str("tenant_id", tenantID).Str("invite_id", inv.ID).Msg("Invite token used against another wedding")
		return nil, apperr.NotFound(apperr.ReasonTenantMismatch, "invite not found")
	}
	if err := CheckUsable(inv, m.now()); err != nil {
		return nil, err
	}
	return inv, nil
}

// Get returns an invite of tenantID
func (m *Manager) Get(ctx context.Context, tenantID, inviteID string) (*models.Invite, error) {
	inv, err := m.store.GetInvite(ctx, inviteID)
	if err != nil {
		return nil, notFound(err, "invite")
	}
	if inv.TenantID != tenantID {
		return nil, apperr.NotFound(apperr.ReasonTenantMismatch, "invite not found")
	}
	return inv, nil
}

// List returns a household's invites
func (m *Manager) List(ctx context.Context, tenantID, householdID string) ([]models.Invite, error) {
	return m.store.ListHouseholdInvites(ctx, tenantID, householdID)
}

func (m *Manager) lockOwned(ctx context.Context, tx *storage.Tx, tenantID, inviteID string) (*models.Invite, error) {
	inv, err := tx.LockInvite(ctx, inviteID)
	if err != nil {
		return nil, notFound(err, "invite")
	}
	if inv.TenantID != tenantID {
		return nil, apperr.NotFound(apperr.ReasonTenantMismatch, "invite not found")
	}
	return inv, nil
}

// applyLimits sets the limits the schema can hold and drops the rest
func (m *Manager) applyLimits(inv *models.Invite, maxUses *int, expiresAt *time.Time) {
	if !m.caps.InviteLimits {
		if maxUses != nil || expiresAt != nil {
			m.log.Warn().Str("invite_id", inv.ID).Msg("Schema has no invite limit columns, limits ignored")
		}
		inv.MaxUses, inv.ExpiresAt = nil, nil
		return
	}
	inv.MaxUses = maxUses
	if expiresAt != nil {
		at := expiresAt.UTC()
		inv.ExpiresAt = &at
	} else {
		inv.ExpiresAt = nil
	}
}

func addLimits(c map[string]any, inv *models.Invite) {
	if inv.MaxUses != nil {
		c["max_uses"] = *inv.MaxUses
	}
	if inv.ExpiresAt != nil {
		c["expires_at"] = inv.ExpiresAt.Format(time.RFC3339)
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(apperr.ReasonNotFound, "%s not found", what)
	}
	return err
}
