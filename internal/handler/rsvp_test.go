package handler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/audit"
	"wedding-invites/internal/invites"
	"wedding-invites/internal/models"
	"wedding-invites/internal/rsvp"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/storage/storagetest"
)

const tenant = "w-1"

type reply struct{ phone, text string }

type fakeReplier struct{ sent []reply }

func (r *fakeReplier) SendMessage(_ context.Context, phone, text string) error {
	r.sent = append(r.sent, reply{phone, text})
	return nil
}

func setup(t *testing.T, eventSlug string) (*RSVPHandler, *fakeReplier, *storage.Store) {
	t.Helper()
	s := storagetest.Open(t)
	auditor := audit.NewWriter(zerolog.Nop())
	mgr := invites.NewManager(s, auditor, storage.FullCapabilities(), zerolog.Nop())
	pipeline := rsvp.NewPipeline(s, mgr, auditor, rsvp.Options{DefaultCountryCode: "972"}, zerolog.Nop())
	r := &fakeReplier{}
	h := NewRSVPHandler(r, s, pipeline, Config{
		TenantID:           tenant,
		EventSlug:          eventSlug,
		CoupleNames:        "Anat & David",
		WeddingDate:        "05.01.2026",
		DefaultCountryCode: "972",
	}, zerolog.Nop())
	return h, r, s
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		text string
		want models.RSVPStatus
	}{
		{"Yes!", models.RSVPConfirmed},
		{"yeah we'll be there", models.RSVPConfirmed},
		{"Sim, vamos!", models.RSVPConfirmed},
		{"כן", models.RSVPConfirmed},
		{"✅", models.RSVPConfirmed},
		{"Sorry, not coming", models.RSVPDeclined},
		{"I can’t make it", models.RSVPDeclined},
		{"Não vamos conseguir", models.RSVPDeclined},
		{"לא נגיע", models.RSVPDeclined},
		{"❌", models.RSVPDeclined},
		{"maybe, depends on flights", models.RSVPMaybe},
		{"talvez", models.RSVPMaybe},
	}
	for _, tc := range cases {
		got, ok := ParseReply(tc.text)
		assert.True(t, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}

	for _, text := range []string{"hello", "I don't know yet", "what time is it now?", ""} {
		_, ok := ParseReply(text)
		assert.False(t, ok, text)
	}
}

func TestHandleText_RecordsRSVP(t *testing.T) {
	ctx := context.Background()
	h, r, s := setup(t, "wedding")
	storagetest.Event(t, s, tenant, "wedding", models.AccessRestricted)
	guest := storagetest.Guest(t, s, tenant, nil, "Dana", "", "972501234567")

	require.NoError(t, h.HandleText(ctx, "0501234567", "yes, we're coming"))

	got, err := s.GetGuest(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RSVPConfirmed, got.OverallRSVPStatus)

	require.Len(t, r.sent, 1)
	assert.Equal(t, "972501234567", r.sent[0].phone)
	assert.Contains(t, r.sent[0].text, "Anat & David on 05.01.2026")

	entries, err := s.ListAuditByAction(ctx, tenant, audit.RSVPAuthenticated)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "whatsapp:972501234567", *entries[0].ActorID)

	// Changing their mind updates the same RSVP
	require.NoError(t, h.HandleText(ctx, "972501234567", "sorry, can't come after all"))
	got, err = s.GetGuest(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RSVPDeclined, got.OverallRSVPStatus)
}

func TestHandleText_Ignored(t *testing.T) {
	ctx := context.Background()
	h, r, s := setup(t, "wedding")
	storagetest.Event(t, s, tenant, "wedding", models.AccessRestricted)
	storagetest.Guest(t, s, tenant, nil, "Dana", "", "972501234567")
	storagetest.Guest(t, s, "w-2", nil, "Other", "", "972509999999")

	require.NoError(t, h.HandleText(ctx, "972501234567", "what should I wear?"))
	require.NoError(t, h.HandleText(ctx, "972509999999", "yes"))
	require.NoError(t, h.HandleText(ctx, "", "yes"))
	assert.Empty(t, r.sent)
}

func TestHandleText_RejectedAnswerGetsReply(t *testing.T) {
	ctx := context.Background()
	h, r, s := setup(t, "wedding")
	storagetest.Event(t, s, tenant, "wedding", models.AccessRestricted, models.Question{
		Label: "Meal", Type: models.QuestionSelect, Required: true, Options: []string{"Meat", "Vegan"},
	})
	guest := storagetest.Guest(t, s, tenant, nil, "Dana", "", "972501234567")

	require.NoError(t, h.HandleText(ctx, "972501234567", "yes"))
	require.Len(t, r.sent, 1)
	assert.Contains(t, r.sent[0].text, "couldn't record your answer")

	got, err := s.GetGuest(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RSVPNoResponse, got.OverallRSVPStatus)
}

func TestHandleText_MissingEvent(t *testing.T) {
	h, _, s := setup(t, "missing")
	storagetest.Guest(t, s, tenant, nil, "Dana", "", "972501234567")
	assert.Error(t, h.HandleText(context.Background(), "972501234567", "yes"))
}
