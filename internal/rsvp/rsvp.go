// Package rsvp stores guests' answers to events, either for a known guest or
// through the public form, which may use an invite token and may create the
// guest on the fly.
package rsvp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/audit"
	"wedding-invites/internal/contact"
	"wedding-invites/internal/invites"
	"wedding-invites/internal/models"
	"wedding-invites/internal/questions"
	"wedding-invites/internal/storage"
)

// Mode is how a public submission identified its guest
type Mode string

const (
	ModeInviteGuest     Mode = "invite_guest"
	ModeInviteHousehold Mode = "invite_household"
	ModeRestricted      Mode = "restricted"
	ModeOpen            Mode = "open"
)

// GuestData is the identity typed into the public form
type GuestData struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	IsChild bool   `json:"is_child"`
}

// PublicSubmission is one public form post
type PublicSubmission struct {
	EventID       string            `json:"event_id"`
	Token         string            `json:"token,omitempty"`
	Guest         GuestData         `json:"guest"`
	HouseholdName string            `json:"household_name,omitempty"`
	Status        models.RSVPStatus `json:"status"`
	Answers       map[string]any    `json:"answers"`
}

// Result is the outcome of a submission
type Result struct {
	RSVP             *models.RSVP   `json:"rsvp,omitempty"`
	Guest            *models.Guest  `json:"guest,omitempty"`
	Invite           *models.Invite `json:"invite,omitempty"`
	Mode             Mode           `json:"mode,omitempty"`
	CreatedGuest     bool           `json:"created_guest"`
	CreatedHousehold bool           `json:"created_household"`
	// AlreadyUsed is set when a concurrent submission took the invite's last
	// use first. Nothing was stored.
	AlreadyUsed bool `json:"already_used"`
}

// Options configures a Pipeline
type Options struct {
	// DefaultCountryCode is applied to national phone numbers.
	DefaultCountryCode string
}

// Pipeline runs RSVP submissions
type Pipeline struct {
	store   *storage.Store
	invites *invites.Manager
	audit   *audit.Writer
	opts    Options
	log     zerolog.Logger
	now     func() time.Time
}

// NewPipeline creates a pipeline
func NewPipeline(store *storage.Store, inviteMgr *invites.Manager, auditor *audit.Writer, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		invites: inviteMgr,
		audit:   auditor,
		opts:    opts,
		log:     log.With().Str("component", "rsvp").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var errInviteTaken = errors.New("invite used by a concurrent submission")

// OverallStatus derives a guest's status from all of their RSVPs:
// confirmed, then maybe, then declined, else no_response.
func OverallStatus(statuses []models.RSVPStatus) models.RSVPStatus {
	for _, want := range []models.RSVPStatus{models.RSVPConfirmed, models.RSVPMaybe, models.RSVPDeclined} {
		for _, s := range statuses {
			if s == want {
				return want
			}
		}
	}
	return models.RSVPNoResponse
}

// SubmitAuthenticated stores the RSVP of a known guest
func (p *Pipeline) SubmitAuthenticated(ctx context.Context, tenantID, eventID, guestID string, status models.RSVPStatus, answers map[string]any, actorID string) (*Result, error) {
	if !status.Submittable() {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "status", "unknown rsvp status %q", status)
	}
	event, err := p.openEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	guest, err := p.store.GetGuest(ctx, guestID)
	if err != nil {
		return nil, notFound(err, "guest")
	}
	if guest.TenantID != tenantID {
		return nil, apperr.NotFound(apperr.ReasonTenantMismatch, "guest not found")
	}

	normalized, err := questions.Validate(event.Questions, answers)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	err = p.store.WithTx(ctx, func(tx *storage.Tx) error {
		locked, err := tx.LockGuest(ctx, guest.ID)
		if err != nil {
			return notFound(err, "guest")
		}
		res.Guest = locked

		if err := p.save(ctx, tx, res, event, status, normalized); err != nil {
			return err
		}

		_, err = p.audit.Record(ctx, tx, audit.Entry{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   audit.RSVPAuthenticated,
			Context: map[string]any{
				audit.KeyEventID: event.ID,
				audit.KeyGuestID: guest.ID,
				"status":         string(status),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("tenant_id", tenantID).
		Str("event_id", event.ID).
		Str("guest_id", guest.ID).
		Str("status", string(status)).
		Msg("RSVP submitted")
	return res, nil
}

// SubmitPublic stores an RSVP posted through the public form. The invite is
// checked once up front and again under its row lock; only the second check
// decides whether it is used.
func (p *Pipeline) SubmitPublic(ctx context.Context, tenantID string, sub PublicSubmission) (*Result, error) {
	if !sub.Status.Submittable() {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "status", "unknown rsvp status %q", sub.Status)
	}
	event, err := p.openEvent(ctx, tenantID, sub.EventID)
	if err != nil {
		return nil, err
	}

	var inv *models.Invite
	if strings.TrimSpace(sub.Token) != "" {
		inv, err = p.invites.ResolveToken(ctx, tenantID, sub.Token)
		if err != nil {
			return nil, err
		}
	}

	normalized, err := questions.Validate(event.Questions, sub.Answers)
	if err != nil {
		return nil, err
	}

	data := GuestData{
		Name:    strings.TrimSpace(sub.Guest.Name),
		Email:   contact.NormalizeEmail(sub.Guest.Email),
		Phone:   contact.NormalizePhone(sub.Guest.Phone, p.opts.DefaultCountryCode),
		IsChild: sub.Guest.IsChild,
	}

	res := &Result{Invite: inv}
	var existing *models.Guest
	switch {
	case inv != nil && inv.GuestID != nil:
		res.Mode = ModeInviteGuest
		existing, err = p.store.GetGuest(ctx, *inv.GuestID)
		if err != nil {
			return nil, notFound(err, "guest")
		}
		if existing.TenantID != tenantID {
			return nil, apperr.NotFound(apperr.ReasonTenantMismatch, "guest not found")
		}
	case inv != nil:
		res.Mode = ModeInviteHousehold
		if data.Name == "" {
			return nil, apperr.InvalidField(apperr.ReasonInvalid, "name", "name is required")
		}
	case event.AccessMode == models.AccessOpen:
		res.Mode = ModeOpen
		if data.Name == "" {
			return nil, apperr.InvalidField(apperr.ReasonInvalid, "name", "name is required")
		}
	default:
		res.Mode = ModeRestricted
		if data.Email == "" && data.Phone == "" {
			return nil, apperr.InvalidField(apperr.ReasonInvalid, "email", "email or phone is required")
		}
		existing, err = p.store.FindGuestByContact(ctx, tenantID, data.Email, data.Phone)
		if errors.Is(err, storage.ErrNotFound) {
			p.log.Info().Str("tenant_id", tenantID).Str("event_id", event.ID).Msg("Public RSVP from unknown guest refused")
			return nil, apperr.Forbidden("this event only accepts RSVPs from invited guests")
		}
		if err != nil {
			return nil, err
		}
	}

	var taken *models.Invite
	err = p.store.WithTx(ctx, func(tx *storage.Tx) error {
		guestID := ""
		if existing != nil {
			guestID = existing.ID
		} else {
			created, err := p.materialize(ctx, tx, tenantID, res, inv, data, sub.HouseholdName)
			if err != nil {
				return err
			}
			guestID = created.ID
		}

		guest, err := tx.LockGuest(ctx, guestID)
		if err != nil {
			return notFound(err, "guest")
		}
		res.Guest = guest

		var locked *models.Invite
		if inv != nil {
			locked, err = tx.LockInvite(ctx, inv.ID)
			if err != nil {
				return notFound(err, "invite")
			}
			// Only losing the last use is a no-op; an invite revoked or
			// expired meanwhile still fails.
			now := p.now()
			if locked.BlockReason(now) == models.BlockExhausted {
				taken = locked
				return errInviteTaken
			}
			if err := invites.CheckUsable(locked, now); err != nil {
				return err
			}
		}

		if err := p.save(ctx, tx, res, event, sub.Status, normalized); err != nil {
			return err
		}

		c := map[string]any{
			audit.KeyEventID:    event.ID,
			audit.KeyGuestID:    guest.ID,
			"status":            string(sub.Status),
			"access_mode":       string(res.Mode),
			"created_guest":     res.CreatedGuest,
			"created_household": res.CreatedHousehold,
		}

		if locked != nil {
			now := p.now()
			if err := tx.IncrementInviteUse(ctx, locked.ID, now); err != nil {
				return err
			}
			locked.UsesCount++
			locked.UsedAt = &now
			res.Invite = locked
			c[audit.KeyInviteID] = locked.ID

			if _, err := p.audit.Record(ctx, tx, audit.Entry{
				TenantID: tenantID,
				Action:   audit.InviteUsed,
				Context: map[string]any{
					audit.KeyInviteID: locked.ID,
					audit.KeyGuestID:  guest.ID,
					audit.KeyEventID:  event.ID,
					"uses_count":      locked.UsesCount,
				},
			}); err != nil {
				return err
			}
		}

		_, err = p.audit.Record(ctx, tx, audit.Entry{TenantID: tenantID, Action: audit.RSVPPublic, Context: c})
		return err
	})
	if errors.Is(err, errInviteTaken) {
		p.log.Info().Str("tenant_id", tenantID).Str("invite_id", inv.ID).Msg("Invite used by a concurrent submission")
		return &Result{Invite: taken, Mode: res.Mode, AlreadyUsed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("tenant_id", tenantID).
		Str("event_id", event.ID).
		Str("guest_id", res.Guest.ID).
		Str("mode", string(res.Mode)).
		Bool("created_guest", res.CreatedGuest).
		Msg("Public RSVP submitted")
	return res, nil
}

// openEvent loads an event of tenantID that currently accepts RSVPs
func (p *Pipeline) openEvent(ctx context.Context, tenantID, eventID string) (*models.Event, error) {
	event, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, notFound(err, "event")
	}
	if event.TenantID != tenantID {
		return nil, apperr.NotFound(apperr.ReasonTenantMismatch, "event not found")
	}
	if !event.AcceptsRSVP(p.now()) {
		return nil, apperr.Invalid(apperr.ReasonEventClosed, "event %s is not accepting RSVPs", event.Name)
	}
	return event, nil
}

// materialize creates the guest of a submission without one, and for open
// events its household too.
func (p *Pipeline) materialize(ctx context.Context, tx *storage.Tx, tenantID string, res *Result, inv *models.Invite, data GuestData, householdName string) (*models.Guest, error) {
	now := p.now()

	var householdID string
	if inv != nil {
		household, err := tx.GetHousehold(ctx, inv.HouseholdID)
		if err != nil {
			return nil, notFound(err, "household")
		}
		if household.MaxGuests != nil {
			n, err := tx.CountHouseholdGuests(ctx, household.ID)
			if err != nil {
				return nil, err
			}
			if n >= *household.MaxGuests {
				return nil, apperr.Conflict(apperr.ReasonHouseholdFull, "household %s already has %d guests", household.Name, n)
			}
		}
		householdID = household.ID
	} else {
		name := strings.TrimSpace(householdName)
		if name == "" {
			name = data.Name
		}
		household := &models.Household{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertHousehold(ctx, household); err != nil {
			return nil, err
		}
		householdID = household.ID
		res.CreatedHousehold = true
	}

	guest := &models.Guest{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		HouseholdID:       &householdID,
		Name:              data.Name,
		Email:             data.Email,
		Phone:             data.Phone,
		IsChild:           data.IsChild,
		OverallRSVPStatus: models.RSVPNoResponse,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.InsertGuest(ctx, guest); err != nil {
		return nil, err
	}
	res.CreatedGuest = true
	return guest, nil
}

// save upserts the RSVP and refreshes the guest's overall status. The guest
// row must already be locked.
func (p *Pipeline) save(ctx context.Context, tx *storage.Tx, res *Result, event *models.Event, status models.RSVPStatus, answers map[string]any) error {
	now := p.now()
	stored, err := tx.UpsertRSVP(ctx, &models.RSVP{
		ID:          uuid.NewString(),
		TenantID:    event.TenantID,
		GuestID:     res.Guest.ID,
		EventID:     event.ID,
		Status:      status,
		Answers:     models.JSONMap(answers),
		RespondedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	res.RSVP = stored

	statuses, err := tx.ListGuestRSVPStatuses(ctx, res.Guest.ID)
	if err != nil {
		return err
	}
	overall := OverallStatus(statuses)
	if overall != res.Guest.OverallRSVPStatus {
		if err := tx.UpdateGuestOverallStatus(ctx, res.Guest.ID, overall, now); err != nil {
			return err
		}
		res.Guest.OverallRSVPStatus = overall
		res.Guest.UpdatedAt = now
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(apperr.ReasonNotFound, "%s not found", what)
	}
	return err
}
