package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/storage/storagetest"
)

const tenant = "wedding-1"

func newInvite(h *models.Household, hash string) *models.Invite {
	now := storagetest.Now()
	return &models.Invite{
		ID:          uuid.NewString(),
		TenantID:    h.TenantID,
		HouseholdID: h.ID,
		Token:       "tok-" + hash,
		TokenHash:   hash,
		Channel:     models.ChannelWhatsApp,
		Status:      models.InviteSent,
		SentAt:      now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOpen_FreshSchemaHasAllCapabilities(t *testing.T) {
	s := storagetest.Open(t)
	assert.Equal(t, storage.FullCapabilities(), s.Capabilities())
	assert.Equal(t, storage.DialectSQLite, s.Dialect())
}

func TestOpen_LegacyInvitesTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")
	storagetest.CreateLegacy(t, path)

	opts := storage.Options{Driver: "sqlite3", DSN: path, Migrate: true}
	s, err := storage.Open(ctx, opts, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, s.Capabilities().InviteLimits)
	assert.False(t, s.Capabilities().InviteRevocation)

	h := storagetest.Household(t, s, tenant, "Silva")
	inv := newInvite(h, "legacy-hash")
	maxUses := 3
	inv.MaxUses = &maxUses
	require.NoError(t, s.InsertInvite(ctx, inv))

	got, err := s.GetInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MaxUses, "limits are not persisted without the column")
	assert.Nil(t, got.RevokedAt)
	require.NoError(t, s.Close())

	opts.UpgradeSchema = true
	s, err = storage.Open(ctx, opts, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, storage.FullCapabilities(), s.Capabilities())

	// Upgrading twice is a no-op.
	require.NoError(t, s.UpgradeSchema(ctx))
}

func TestUpsertRSVP_OneRowPerGuestAndEvent(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	g := storagetest.Guest(t, s, tenant, nil, "Ana", "ana@example.com", "")
	e := storagetest.Event(t, s, tenant, "ceremony", models.AccessRestricted)

	first := storagetest.Now()
	_, err := s.UpsertRSVP(ctx, &models.RSVP{
		ID: uuid.NewString(), TenantID: tenant, GuestID: g.ID, EventID: e.ID,
		Status: models.RSVPMaybe, Answers: models.JSONMap{"meal": "fish"},
		RespondedAt: first, CreatedAt: first, UpdatedAt: first,
	})
	require.NoError(t, err)

	second := first.Add(time.Minute)
	stored, err := s.UpsertRSVP(ctx, &models.RSVP{
		ID: uuid.NewString(), TenantID: tenant, GuestID: g.ID, EventID: e.ID,
		Status: models.RSVPConfirmed, Answers: models.JSONMap{"meal": "beef"},
		RespondedAt: second, CreatedAt: second, UpdatedAt: second,
	})
	require.NoError(t, err)

	assert.Equal(t, models.RSVPConfirmed, stored.Status)
	assert.Equal(t, "beef", stored.Answers["meal"])
	assert.True(t, stored.CreatedAt.Equal(first), "the original row is kept")

	n, err := s.CountRSVPs(ctx, g.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertCheckIn_UniquePerGuestAndEventKey(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	g := storagetest.Guest(t, s, tenant, nil, "Ana", "", "")

	c := &models.CheckIn{
		ID: uuid.NewString(), TenantID: tenant, GuestID: g.ID,
		Method: models.MethodManual, CheckedInAt: storagetest.Now(),
	}
	require.NoError(t, s.InsertCheckIn(ctx, c))

	dup := *c
	dup.ID = uuid.NewString()
	assert.Error(t, s.InsertCheckIn(ctx, &dup))

	latest, err := s.FindLatestCheckIn(ctx, g.ID, "")
	require.NoError(t, err)
	assert.Equal(t, c.ID, latest.ID)

	_, err = s.FindLatestCheckIn(ctx, g.ID, "other-event")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInviteCounters(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	h := storagetest.Household(t, s, tenant, "Costa")
	inv := newInvite(h, "hash-1")
	require.NoError(t, s.InsertInvite(ctx, inv))

	at := storagetest.Now().Add(time.Minute)
	require.NoError(t, s.WithTx(ctx, func(tx *storage.Tx) error {
		locked, err := tx.LockInvite(ctx, inv.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 0, locked.UsesCount)
		return tx.IncrementInviteUse(ctx, inv.ID, at)
	}))

	got, err := s.GetInviteByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsesCount)
	require.NotNil(t, got.UsedAt)
	assert.True(t, got.UsedAt.Equal(at))

	require.NoError(t, s.RevokeInvite(ctx, inv.ID, "lost phone", at))
	got, err = s.GetInvite(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InviteRevoked, got.Status)
	assert.Equal(t, "lost phone", *got.RevokedReason)

	err = s.IncrementInviteUse(ctx, "missing", at)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	h := storagetest.Household(t, s, tenant, "Souza")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.InsertInvite(ctx, newInvite(h, "rolled-back")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetInviteByTokenHash(ctx, "rolled-back")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListFailedDeliveries(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	base := storagetest.Now()

	add := func(channel models.Channel, status models.DeliveryStatus, age time.Duration) {
		inviteID := uuid.NewString()
		require.NoError(t, s.InsertDelivery(ctx, &models.DeliveryLog{
			ID: uuid.NewString(), TenantID: tenant, InviteID: &inviteID,
			Channel: channel, Status: status,
			Payload:   models.JSONMap{"invite_id": inviteID},
			CreatedAt: base.Add(-age),
		}))
	}
	add(models.ChannelEmail, models.DeliveryFailed, time.Hour)
	add(models.ChannelEmail, models.DeliveryFailed, 2*time.Hour)
	add(models.ChannelEmail, models.DeliveryFailed, 48*time.Hour)
	add(models.ChannelEmail, models.DeliverySent, time.Hour)
	add(models.ChannelSMS, models.DeliveryFailed, time.Hour)

	logs, err := s.ListFailedDeliveries(ctx, tenant, storage.DeliveryFilter{
		Channel: models.ChannelEmail,
		From:    base.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt))

	logs, err = s.ListFailedDeliveries(ctx, tenant, storage.DeliveryFilter{Channel: models.ChannelEmail, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestListCheckIns_JoinsNamesAndFilters(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	ana := storagetest.Guest(t, s, tenant, nil, "Ana Lima", "", "")
	bia := storagetest.Guest(t, s, tenant, nil, "Bia Reis", "", "")
	e := storagetest.Event(t, s, tenant, "party", models.AccessOpen)

	require.NoError(t, s.InsertCheckIn(ctx, &models.CheckIn{
		ID: uuid.NewString(), TenantID: tenant, GuestID: ana.ID, EventID: &e.ID, EventKey: e.ID,
		Method: models.MethodQR, CheckedInAt: storagetest.Now(),
	}))
	require.NoError(t, s.InsertCheckIn(ctx, &models.CheckIn{
		ID: uuid.NewString(), TenantID: tenant, GuestID: bia.ID,
		Method: models.MethodManual, CheckedInAt: storagetest.Now(),
	}))

	rows, err := s.ListCheckIns(ctx, tenant, storage.CheckInFilter{Search: "lima"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana Lima", rows[0].GuestName)
	require.NotNil(t, rows[0].EventName)
	assert.Equal(t, "party", *rows[0].EventName)

	rows, err = s.ListCheckIns(ctx, tenant, storage.CheckInFilter{Method: models.MethodManual})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].EventName)

	rows, err = s.ListCheckIns(ctx, "other-wedding", storage.CheckInFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
