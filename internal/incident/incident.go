// Package incident answers "what happened to this invite" from the audit and
// delivery logs, and drives operator-triggered delivery and retries.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/audit"
	"wedding-invites/internal/delivery"
	"wedding-invites/internal/invites"
	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
)

// Options configures a Service
type Options struct {
	Wedding delivery.Wedding
	// RatePerSecond paces batch retries. Zero or less means unpaced.
	RatePerSecond float64
	Burst         int
}

// Service builds timelines and (re)sends invites
type Service struct {
	store   *storage.Store
	invites *invites.Manager
	audit   *audit.Writer
	channel delivery.Channel
	wedding delivery.Wedding
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates the service. channel is usually a delivery.Router.
func NewService(store *storage.Store, inviteMgr *invites.Manager, auditor *audit.Writer, channel delivery.Channel, opts Options, log zerolog.Logger) *Service {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &Service{
		store:   store,
		invites: inviteMgr,
		audit:   auditor,
		channel: channel,
		wedding: opts.Wedding,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With().Str("component", "incident").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Outcome is the result of one Send or RetryInvite
type Outcome struct {
	InviteID string `json:"invite_id"`
	// Blocked is set when the invite could not be delivered at all; Reason
	// says why.
	Blocked  bool                `json:"blocked"`
	Reason   string              `json:"reason,omitempty"`
	Sent     bool                `json:"sent"`
	Message  string              `json:"message,omitempty"`
	Delivery *models.DeliveryLog `json:"delivery,omitempty"`
}

// Send delivers an invite for the first time. A successful delivery moves
// the invite from sent to delivered.
func (s *Service) Send(ctx context.Context, tenantID, inviteID, actorID string) (*Outcome, error) {
	inv, err := s.invites.Get(ctx, tenantID, inviteID)
	if err != nil {
		return nil, err
	}
	if err := invites.CheckUsable(inv, s.now()); err != nil {
		return nil, err
	}

	return s.deliver(ctx, inv, actorID, audit.InviteDeliverySent, audit.InviteDeliveryFailed, true)
}

// RetryInvite redelivers an invite unless it is missing, revoked, expired or
// exhausted. A blocked retry is not audited.
func (s *Service) RetryInvite(ctx context.Context, tenantID, inviteID, actorID string) (*Outcome, error) {
	inv, err := s.store.GetInvite(ctx, inviteID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		inv = nil
	case err != nil:
		return nil, err
	case inv.TenantID != tenantID:
		inv = nil
	}

	if reason := inv.BlockReason(s.now()); reason != "" {
		s.log.Info().
			Str("tenant_id", tenantID).
			Str("invite_id", inviteID).
			Str("reason", reason).
			Msg("Retry blocked")
		return &Outcome{InviteID: inviteID, Blocked: true, Reason: reason}, nil
	}

	return s.deliver(ctx, inv, actorID, audit.InviteRetrySent, audit.InviteRetryFailed, false)
}

// BatchFilter selects failed deliveries for RetryFailedByChannel
type BatchFilter struct {
	Channel models.Channel
	From    time.Time
	To      time.Time
	Limit   int
}

// BatchResult counts the outcomes of a batch retry
type BatchResult struct {
	Attempted int       `json:"attempted"`
	Sent      int       `json:"sent"`
	Blocked   int       `json:"blocked"`
	Failed    int       `json:"failed"`
	NotFound  int       `json:"not_found"`
	Outcomes  []Outcome `json:"outcomes"`
}

// RetryFailedByChannel retries the invites behind the most recent failed
// deliveries over one channel, once per invite.
func (s *Service) RetryFailedByChannel(ctx context.Context, tenantID string, f BatchFilter, actorID string) (*BatchResult, error) {
	if !f.Channel.Valid() {
		return nil, apperr.InvalidField(apperr.ReasonInvalid, "channel", "unknown channel %q", f.Channel)
	}

	logs, err := s.store.ListFailedDeliveries(ctx, tenantID, storage.DeliveryFilter{
		Channel: f.Channel,
		From:    f.From,
		To:      f.To,
		Limit:   f.Limit,
	})
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	seen := map[string]bool{}
	for _, l := range logs {
		inviteID := deliveryInviteID(&l)
		if inviteID == "" {
			res.NotFound++
			continue
		}
		if seen[inviteID] {
			continue
		}
		seen[inviteID] = true

		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}
		out, err := s.RetryInvite(ctx, tenantID, inviteID, actorID)
		if err != nil {
			return res, err
		}
		res.Attempted++
		res.Outcomes = append(res.Outcomes, *out)
		switch {
		case out.Blocked && out.Reason == models.BlockNotFound:
			res.NotFound++
		case out.Blocked:
			res.Blocked++
		case out.Sent:
			res.Sent++
		default:
			res.Failed++
		}
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("channel", string(f.Channel)).
		Int("sent", res.Sent).
		Int("blocked", res.Blocked).
		Int("failed", res.Failed).
		Int("not_found", res.NotFound).
		Msg("Batch retry finished")
	return res, nil
}

// deliveryInviteID reads the invite id of a delivery log, falling back to the
// payload copy for rows written before the column existed.
func deliveryInviteID(l *models.DeliveryLog) string {
	if l.InviteID != nil && *l.InviteID != "" {
		return *l.InviteID
	}
	if id, ok := l.Payload[audit.KeyInviteID].(string); ok {
		return id
	}
	return ""
}

// deliver hands the invite to the channel, then logs and audits the attempt
// in one transaction. The transport call is outside the transaction. With
// markDelivered a confirmed send also moves the invite to delivered in that
// transaction.
func (s *Service) deliver(ctx context.Context, inv *models.Invite, actorID, okAction, failAction string, markDelivered bool) (*Outcome, error) {
	name, recipient, err := s.recipient(ctx, inv)
	if err != nil {
		return nil, err
	}

	subject, body, link := s.wedding.Compose(inv, name)
	req := delivery.Request{
		MessageID: uuid.NewString(),
		TenantID:  inv.TenantID,
		InviteID:  inv.ID,
		Channel:   inv.Channel,
		Recipient: recipient,
		Name:      name,
		Subject:   subject,
		Body:      body,
		Link:      link,
	}

	var result delivery.Result
	if recipient == "" {
		result = delivery.Result{OK: false, Message: fmt.Sprintf("no %s contact for %s", inv.Channel, name)}
	} else {
		result = s.channel.Deliver(ctx, req)
	}

	status := models.DeliverySent
	switch {
	case !result.OK:
		status = models.DeliveryFailed
	case result.Queued:
		status = models.DeliveryQueued
	}

	inviteID := inv.ID
	dl := &models.DeliveryLog{
		ID:        req.MessageID,
		TenantID:  inv.TenantID,
		InviteID:  &inviteID,
		Channel:   inv.Channel,
		Recipient: recipient,
		Status:    status,
		Payload: models.JSONMap{
			audit.KeyInviteID: inv.ID,
			"subject":         subject,
			"result":          result.Message,
		},
		CreatedAt: s.now(),
	}
	if link != "" {
		dl.Payload["link"] = link
	}
	if !result.OK {
		dl.Error = result.Message
	}

	action := okAction
	if !result.OK {
		action = failAction
	}
	auditCtx := map[string]any{
		audit.KeyInviteID: inv.ID,
		"channel":         string(inv.Channel),
		"recipient":       recipient,
		"message_id":      req.MessageID,
		"delivery_status": string(status),
	}
	if inv.GuestID != nil {
		auditCtx[audit.KeyGuestID] = *inv.GuestID
	}
	if !result.OK {
		auditCtx["error"] = result.Message
	}

	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.InsertDelivery(ctx, dl); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			TenantID: inv.TenantID,
			ActorID:  actorID,
			Action:   action,
			Context:  auditCtx,
		}); err != nil {
			return err
		}
		if markDelivered && status == models.DeliverySent {
			if _, err := s.invites.MarkDelivered(ctx, tx, inv.TenantID, inv.ID, actorID); err != nil {
				return fmt.Errorf("failed to mark invite delivered: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := s.log.Info()
	if !result.OK {
		ev = s.log.Warn()
	}
	ev.Str("tenant_id", inv.TenantID).
		Str("invite_id", inv.ID).
		Str("channel", string(inv.Channel)).
		Str("status", string(status)).
		Str("result", result.Message).
		Msg("Invite delivery attempted")

	return &Outcome{
		InviteID: inv.ID,
		Sent:     result.OK,
		Message:  result.Message,
		Delivery: dl,
	}, nil
}

// recipient picks the pinned guest, or the first household guest with a
// contact for the invite's channel.
func (s *Service) recipient(ctx context.Context, inv *models.Invite) (name, address string, err error) {
	if inv.GuestID != nil {
		g, err := s.store.GetGuest(ctx, *inv.GuestID)
		if err != nil {
			return "", "", fmt.Errorf("failed to load invite guest: %w", err)
		}
		return g.Name, contactFor(g, inv.Channel), nil
	}

	h, err := s.store.GetHousehold(ctx, inv.HouseholdID)
	if err != nil {
		return "", "", fmt.Errorf("failed to load invite household: %w", err)
	}
	guests, err := s.store.ListHouseholdGuests(ctx, h.ID)
	if err != nil {
		return "", "", err
	}
	for i := range guests {
		if addr := contactFor(&guests[i], inv.Channel); addr != "" {
			return h.Name, addr, nil
		}
	}
	return h.Name, "", nil
}

func contactFor(g *models.Guest, ch models.Channel) string {
	if ch == models.ChannelEmail {
		return g.Email
	}
	return g.Phone
}
