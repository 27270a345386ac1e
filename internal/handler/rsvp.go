package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/contact"
	"wedding-invites/internal/models"
	"wedding-invites/internal/rsvp"
	"wedding-invites/internal/storage"
)

// Replier sends a text reply to a phone number
type Replier interface {
	SendMessage(ctx context.Context, phone, text string) error
}

type Config struct {
	TenantID           string
	EventSlug          string
	CoupleNames        string
	WeddingDate        string
	DefaultCountryCode string
}

// RSVPHandler turns WhatsApp replies from known guests into RSVPs
type RSVPHandler struct {
	replier  Replier
	store    *storage.Store
	pipeline *rsvp.Pipeline
	cfg      Config
	log      zerolog.Logger
}

// NewRSVPHandler creates a new RSVP handler
func NewRSVPHandler(replier Replier, store *storage.Store, pipeline *rsvp.Pipeline, cfg Config, log zerolog.Logger) *RSVPHandler {
	return &RSVPHandler{
		replier:  replier,
		store:    store,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log.With().Str("component", "rsvp-handler").Logger(),
	}
}

// HandleText processes one inbound message. Messages from unknown numbers
// and messages that are not a clear answer are ignored.
func (h *RSVPHandler) HandleText(ctx context.Context, phone, text string) error {
	phone = contact.NormalizePhone(phone, h.cfg.DefaultCountryCode)
	if phone == "" {
		return nil
	}

	// Only guests already on the list can answer
	guest, err := h.store.FindGuestByContact(ctx, h.cfg.TenantID, "", phone)
	if errors.Is(err, storage.ErrNotFound) {
		h.log.Debug().Str("phone", phone).Msg("Message from unknown number ignored")
		return nil
	}
	if err != nil {
		return err
	}

	status, ok := ParseReply(text)
	if !ok {
		return nil
	}

	event, err := h.store.GetEventBySlug(ctx, h.cfg.TenantID, h.cfg.EventSlug)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", h.cfg.EventSlug, err)
	}

	_, err = h.pipeline.SubmitAuthenticated(ctx, h.cfg.TenantID, event.ID, guest.ID, status, nil, "whatsapp:"+phone)
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		h.log.Info().Str("guest_id", guest.ID).Str("reason", verr.Reason).Msg("WhatsApp RSVP rejected")
		return h.reply(ctx, phone, fmt.Sprintf(
			"Sorry, we couldn't record your answer (%s). Please use the link in your invitation.", verr.Message))
	}
	if err != nil {
		return fmt.Errorf("failed to update RSVP: %w", err)
	}

	return h.reply(ctx, phone, h.confirmation(status))
}

func (h *RSVPHandler) confirmation(status models.RSVPStatus) string {
	switch status {
	case models.RSVPConfirmed:
		return fmt.Sprintf(
			"🎉 Wonderful! We're so excited to celebrate with you!\n\n"+
				"We've confirmed your attendance for the wedding of %s on %s.\n\n"+
				"See you there! 💕",
			h.cfg.CoupleNames, h.cfg.WeddingDate)
	case models.RSVPDeclined:
		return fmt.Sprintf(
			"Thank you for letting us know. We're sorry you won't be able to join us for the wedding of %s.\n\n"+
				"We'll miss you! 💕",
			h.cfg.CoupleNames)
	default:
		return "Thanks! We've noted that you might come. Reply YES or NO once you know. 💕"
	}
}

func (h *RSVPHandler) reply(ctx context.Context, phone, text string) error {
	if err := h.replier.SendMessage(ctx, phone, text); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}
	return nil
}

var (
	declineKeywords = []string{
		"no", "nope", "decline", "declining", "not coming", "can't come", "cannot come", "won't come",
		"can't make it", "não", "nao", "לא",
	}
	maybeKeywords  = []string{"maybe", "perhaps", "talvez", "אולי"}
	acceptKeywords = []string{
		"yes", "yep", "yeah", "accept", "accepting", "attending", "coming", "will come", "will be there",
		"sim", "vou", "vamos", "confirmo", "כן", "מגיע", "מגיעה", "מגיעים",
	}
)

// ParseReply reads a yes / no / maybe answer in English, Portuguese or
// Hebrew. Negative phrases win over positive ones so "not coming" declines.
func ParseReply(text string) (models.RSVPStatus, bool) {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	switch {
	case strings.Contains(text, "❌"):
		return models.RSVPDeclined, true
	case strings.Contains(text, "✅"):
		return models.RSVPConfirmed, true
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	padded := " " + strings.Join(words, " ") + " "

	switch {
	case containsAny(padded, declineKeywords...):
		return models.RSVPDeclined, true
	case containsAny(padded, maybeKeywords...):
		return models.RSVPMaybe, true
	case containsAny(padded, acceptKeywords...):
		return models.RSVPConfirmed, true
	}
	return "", false
}

// containsAny checks if the padded text contains any keyword as whole words
func containsAny(padded string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(padded, " "+keyword+" ") {
			return true
		}
	}
	return false
}
