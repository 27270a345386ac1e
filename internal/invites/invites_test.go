package invites

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/audit"
	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/storage/storagetest"
)

const tenant = "w-1"

type fixture struct {
	store     *storage.Store
	mgr       *Manager
	household *models.Household
	guest     *models.Guest
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s := storagetest.Open(t)
	h := storagetest.Household(t, s, tenant, "Oliveira")
	g := storagetest.Guest(t, s, tenant, h, "Rita Oliveira", "rita@example.com", "")
	return &fixture{
		store:     s,
		mgr:       NewManager(s, audit.NewWriter(zerolog.Nop()), storage.FullCapabilities(), zerolog.Nop()),
		household: h,
		guest:     g,
	}
}

func intPtr(n int) *int { return &n }

func TestCreate_PinnedInviteIsAudited(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	inv, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{
		GuestID: f.guest.ID,
		Channel: models.ChannelEmail,
		MaxUses: intPtr(2),
	}, "operator-1")
	require.NoError(t, err)

	assert.Equal(t, models.InviteSent, inv.Status)
	assert.NotEmpty(t, inv.Token)
	require.NotNil(t, inv.GuestID)
	assert.Equal(t, f.guest.ID, *inv.GuestID)

	stored, err := f.store.GetInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *stored.MaxUses)
	assert.Equal(t, inv.TokenHash, stored.TokenHash)

	entries, err := f.store.ListAuditByInvite(ctx, tenant, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.InviteCreated, entries[0].Action)
	assert.Equal(t, f.guest.ID, *entries[0].GuestID)
}

func TestCreate_Rejections(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	foreignGuest := storagetest.Guest(t, f.store, "w-2", nil, "Stranger", "", "")

	_, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{GuestID: foreignGuest.ID, Channel: models.ChannelSMS}, "")
	assert.True(t, apperr.HasReason(err, apperr.ReasonTenantMismatch))

	_, err = f.mgr.Create(ctx, "w-2", f.household.ID, CreateData{Channel: models.ChannelSMS}, "")
	assert.Equal(t, http.StatusNotFound, apperr.CodeOf(err))

	_, err = f.mgr.Create(ctx, tenant, "missing", CreateData{Channel: models.ChannelSMS}, "")
	assert.Equal(t, http.StatusNotFound, apperr.CodeOf(err))

	_, err = f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: "pigeon"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.CodeOf(err))

	_, err = f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelSMS, MaxUses: intPtr(0)}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.CodeOf(err))

	invites, err := f.mgr.List(ctx, tenant, f.household.ID)
	require.NoError(t, err)
	assert.Empty(t, invites)
}

func TestResolveToken_UsabilityBoundary(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	past := time.Now().UTC().Add(-time.Hour)

	usable, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail}, "")
	require.NoError(t, err)
	expired, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail, ExpiresAt: &past}, "")
	require.NoError(t, err)
	exhausted, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail, MaxUses: intPtr(1)}, "")
	require.NoError(t, err)
	require.NoError(t, f.store.IncrementInviteUse(ctx, exhausted.ID, time.Now().UTC()))
	revoked, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail}, "")
	require.NoError(t, err)
	_, err = f.mgr.Revoke(ctx, tenant, revoked.ID, "sent to wrong number", "")
	require.NoError(t, err)

	got, err := f.mgr.ResolveToken(ctx, tenant, usable.Token)
	require.NoError(t, err)
	assert.Equal(t, usable.ID, got.ID)

	cases := map[string]struct {
		tenant string
		token  string
		code   int
		reason string
	}{
		"expired":        {tenant, expired.Token, http.StatusGone, apperr.ReasonExpired},
		"exhausted":      {tenant, exhausted.Token, http.StatusConflict, apperr.ReasonExhausted},
		"revoked":        {tenant, revoked.Token, http.StatusGone, apperr.ReasonRevoked},
		"unknown":        {tenant, "nope", http.StatusNotFound, apperr.ReasonNotFound},
		"other wedding":  {"w-2", usable.Token, http.StatusNotFound, apperr.ReasonTenantMismatch},
		"missing token":  {tenant, "  ", http.StatusUnprocessableEntity, apperr.ReasonInvalid},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.mgr.ResolveToken(ctx, c.tenant, c.token)
			require.Error(t, err)
			assert.Equal(t, c.code, apperr.CodeOf(err))
			assert.True(t, apperr.HasReason(err, c.reason), err.Error())
		})
	}
}

func TestCheckUsable_ExpiryIsExclusive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inv := &models.Invite{ExpiresAt: &now}
	assert.Error(t, CheckUsable(inv, now))
	assert.NoError(t, CheckUsable(inv, now.Add(-time.Second)))
	assert.Equal(t, http.StatusNotFound, apperr.CodeOf(CheckUsable(nil, now)))
}

func TestReissue_RecoversRevokedInvite(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	inv, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelWhatsApp, MaxUses: intPtr(1)}, "")
	require.NoError(t, err)
	require.NoError(t, f.store.IncrementInviteUse(ctx, inv.ID, time.Now().UTC()))
	_, err = f.mgr.Revoke(ctx, tenant, inv.ID, "duplicate", "operator-1")
	require.NoError(t, err)

	reissued, err := f.mgr.Reissue(ctx, tenant, inv.ID, ReissueData{MaxUses: intPtr(3)}, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, models.InviteSent, reissued.Status)
	assert.NotEqual(t, inv.Token, reissued.Token)

	stored, err := f.store.GetInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UsesCount)
	assert.Nil(t, stored.UsedAt)
	assert.Nil(t, stored.RevokedAt)
	assert.Nil(t, stored.RevokedReason)
	assert.Equal(t, 3, *stored.MaxUses)

	_, err = f.mgr.ResolveToken(ctx, tenant, inv.Token)
	assert.Equal(t, http.StatusNotFound, apperr.CodeOf(err), "the old token is dead")
	_, err = f.mgr.ResolveToken(ctx, tenant, reissued.Token)
	assert.NoError(t, err)

	entries, err := f.store.ListAuditByInvite(ctx, tenant, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.InviteReissued, entries[2].Action)
	assert.Equal(t, false, entries[2].Context["was_usable"])
}

func TestReissue_ClearsPassedExpiry(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	past := time.Now().UTC().Add(-time.Minute)

	inv, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail, ExpiresAt: &past}, "")
	require.NoError(t, err)

	reissued, err := f.mgr.Reissue(ctx, tenant, inv.ID, ReissueData{}, "")
	require.NoError(t, err)
	assert.Nil(t, reissued.ExpiresAt)
	assert.True(t, reissued.Usable(time.Now().UTC()))
}

func TestRevoke_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	inv, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail}, "")
	require.NoError(t, err)

	first, err := f.mgr.Revoke(ctx, tenant, inv.ID, "typo", "")
	require.NoError(t, err)
	second, err := f.mgr.Revoke(ctx, tenant, inv.ID, "again", "")
	require.NoError(t, err)
	assert.Equal(t, "typo", *second.RevokedReason)
	assert.True(t, first.RevokedAt.Equal(*second.RevokedAt))

	entries, err := f.store.ListAuditByInvite(ctx, tenant, inv.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLegacySchema(t *testing.T) {
	ctx := context.Background()
	s := storagetest.OpenLegacy(t)
	h := storagetest.Household(t, s, tenant, "Oliveira")
	legacy := NewManager(s, audit.NewWriter(zerolog.Nop()), s.Capabilities(), zerolog.Nop())

	inv, err := legacy.Create(ctx, tenant, h.ID, CreateData{Channel: models.ChannelEmail, MaxUses: intPtr(1)}, "")
	require.NoError(t, err)
	assert.Nil(t, inv.MaxUses)

	_, err = legacy.Revoke(ctx, tenant, inv.ID, "nope", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnsupported))

	t.Run("expired status blocks the invite", func(t *testing.T) {
		got, err := legacy.Transition(ctx, tenant, inv.ID, models.InviteExpired, "")
		require.NoError(t, err)
		assert.Equal(t, models.InviteExpired, got.Status)
		assert.Nil(t, got.ExpiresAt)

		_, err = legacy.ResolveToken(ctx, tenant, inv.Token)
		require.Error(t, err)
		assert.True(t, apperr.HasReason(err, apperr.ReasonExpired))
		assert.Equal(t, http.StatusGone, apperr.CodeOf(err))
	})

	t.Run("reissue recovers it", func(t *testing.T) {
		got, err := legacy.Reissue(ctx, tenant, inv.ID, ReissueData{}, "")
		require.NoError(t, err)
		assert.Equal(t, models.InviteSent, got.Status)

		resolved, err := legacy.ResolveToken(ctx, tenant, got.Token)
		require.NoError(t, err)
		assert.Equal(t, inv.ID, resolved.ID)
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	inv, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail}, "")
	require.NoError(t, err)

	got, err := f.mgr.Transition(ctx, tenant, inv.ID, models.InviteDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, models.InviteDelivered, got.Status)

	_, err = f.mgr.Transition(ctx, tenant, inv.ID, models.InviteSent, "")
	assert.True(t, apperr.HasReason(err, apperr.ReasonBadTransition))

	_, err = f.mgr.Transition(ctx, tenant, inv.ID, models.InviteRevoked, "")
	assert.True(t, apperr.HasReason(err, apperr.ReasonBadTransition))

	got, err = f.mgr.Transition(ctx, tenant, inv.ID, models.InviteExpired, "")
	require.NoError(t, err)
	assert.Equal(t, models.InviteExpired, got.Status)
	_, err = f.mgr.ResolveToken(ctx, tenant, inv.Token)
	assert.True(t, apperr.HasReason(err, apperr.ReasonExpired))

	entries, err := f.store.ListAuditByAction(ctx, tenant, audit.InviteStatusChanged)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	inv, err := f.mgr.Create(ctx, tenant, f.household.ID, CreateData{Channel: models.ChannelEmail}, "")
	require.NoError(t, err)

	err = f.store.WithTx(ctx, func(tx *storage.Tx) error {
		got, err := f.mgr.MarkDelivered(ctx, tx, tenant, inv.ID, "operator")
		if err != nil {
			return err
		}
		assert.Equal(t, models.InviteDelivered, got.Status)
		return errors.New("roll back")
	})
	require.Error(t, err)
	stored, err := f.store.GetInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InviteSent, stored.Status, "the status change rolls back with the transaction")

	_, err = f.mgr.Transition(ctx, tenant, inv.ID, models.InviteOpened, "")
	require.NoError(t, err)
	err = f.store.WithTx(ctx, func(tx *storage.Tx) error {
		got, err := f.mgr.MarkDelivered(ctx, tx, tenant, inv.ID, "operator")
		if err != nil {
			return err
		}
		assert.Equal(t, models.InviteOpened, got.Status)
		return nil
	})
	require.NoError(t, err)

	err = f.store.WithTx(ctx, func(tx *storage.Tx) error {
		_, err := f.mgr.MarkDelivered(ctx, tx, "w-2", inv.ID, "operator")
		return err
	})
	assert.Equal(t, http.StatusNotFound, apperr.CodeOf(err))
}
