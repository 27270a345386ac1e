// Package audit writes the append-only audit log. Entries are written through
// the caller's transaction so they commit or roll back with the change they
// describe.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-invites/internal/models"
)

// Actions recorded by the engine
const (
	InviteCreated           = "invite.created"
	InviteReissued          = "invite.reissued"
	InviteRevoked           = "invite.revoked"
	InviteUsed              = "invite.used"
	InviteStatusChanged     = "invite.status_changed"
	InviteDeliverySent      = "invite.delivery_sent"
	InviteDeliveryFailed    = "invite.delivery_failed"
	InviteRetrySent         = "invite.retry_sent"
	InviteRetryFailed       = "invite.retry_failed"
	RSVPAuthenticated       = "rsvp.authenticated_submitted"
	RSVPPublic              = "rsvp.public_submitted"
	CheckInRecorded         = "checkin.recorded"
	CheckInDuplicateIgnored = "checkin.duplicate_ignored"
)

// Context keys promoted to indexed columns
const (
	KeyInviteID = "invite_id"
	KeyEventID  = "event_id"
	KeyGuestID  = "guest_id"
)

// Inserter is satisfied by storage.Store and storage.Tx
type Inserter interface {
	InsertAudit(ctx context.Context, e *models.AuditEntry) error
}

// Entry is what a caller records
type Entry struct {
	TenantID string
	ActorID  string
	Action   string
	Context  map[string]any
}

// Writer appends audit entries
type Writer struct {
	log zerolog.Logger
	now func() time.Time
}

// NewWriter creates a writer
func NewWriter(log zerolog.Logger) *Writer {
	return &Writer{
		log: log.With().Str("component", "audit").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Record appends e through db and returns the stored entry.
func (w *Writer) Record(ctx context.Context, db Inserter, e Entry) (*models.AuditEntry, error) {
	if e.TenantID == "" {
		return nil, fmt.Errorf("audit entry %s has no tenant", e.Action)
	}

	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		TenantID:  e.TenantID,
		Action:    e.Action,
		Context:   models.JSONMap{},
		CreatedAt: w.now(),
	}
	if e.ActorID != "" {
		actor := e.ActorID
		entry.ActorID = &actor
	}
	for k, v := range e.Context {
		entry.Context[k] = v
	}
	entry.InviteID = contextID(e.Context, KeyInviteID)
	entry.EventID = contextID(e.Context, KeyEventID)
	entry.GuestID = contextID(e.Context, KeyGuestID)

	if err := db.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}

	w.log.Debug().
		Str("tenant_id", entry.TenantID).
		Str("action", entry.Action).
		Msg("Audit entry recorded")
	return entry, nil
}

func contextID(ctx map[string]any, key string) *string {
	v, ok := ctx[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}
