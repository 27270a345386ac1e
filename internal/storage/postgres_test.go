package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
)

func newPostgresMock(t *testing.T, caps storage.Capabilities) (*storage.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.New(sqlx.NewDb(db, "postgres"), caps, zerolog.Nop()), mock
}

func TestPostgres_LockGuestUsesForUpdate(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresMock(t, storage.FullCapabilities())
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM guests WHERE id = \$1 FOR UPDATE`).
		WithArgs("g-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "household_id", "name", "email", "phone", "is_child", "overall_rsvp_status", "created_at", "updated_at",
		}).AddRow("g-1", "w-1", nil, "Ana", "ana@example.com", "", false, "no_response", now, now))
	mock.ExpectExec(`UPDATE guests SET overall_rsvp_status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("confirmed", now, "g-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		g, err := tx.LockGuest(ctx, "g-1")
		if err != nil {
			return err
		}
		assert.Equal(t, "w-1", g.TenantID)
		assert.Equal(t, models.RSVPNoResponse, g.OverallRSVPStatus)
		return tx.UpdateGuestOverallStatus(ctx, g.ID, models.RSVPConfirmed, now)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LegacyInviteColumnsSelectedAsNull(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresMock(t, storage.Capabilities{})
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`NULL AS max_uses, NULL AS expires_at, NULL AS revoked_at, NULL AS revoked_reason FROM invites WHERE id = \$1 FOR UPDATE`).
		WithArgs("i-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "household_id", "guest_id", "token", "token_hash", "channel", "status", "uses_count",
			"used_at", "sent_at", "created_at", "updated_at", "max_uses", "expires_at", "revoked_at", "revoked_reason",
		}).AddRow("i-1", "w-1", "h-1", nil, "tok", "hash", "email", "sent", 2, nil, now, now, now, nil, nil, nil, nil))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		inv, err := tx.LockInvite(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, 2, inv.UsesCount)
		assert.Nil(t, inv.MaxUses)
		assert.True(t, inv.Usable(now))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ResetInviteSkipsMissingColumns(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresMock(t, storage.Capabilities{InviteLimits: true})
	now := time.Now().UTC()
	maxUses := 1

	mock.ExpectExec(`UPDATE invites SET token = \$1, token_hash = \$2, status = \$3, uses_count = \$4, used_at = \$5, sent_at = \$6, updated_at = \$7, max_uses = \$8, expires_at = \$9 WHERE id = \$10`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ResetInvite(ctx, &models.Invite{
		ID: "i-1", Token: "t", TokenHash: "h", Status: models.InviteSent,
		MaxUses: &maxUses, SentAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RevokeMissingInvite(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresMock(t, storage.FullCapabilities())

	mock.ExpectExec(`UPDATE invites SET status = \$1, revoked_at = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RevokeInvite(ctx, "nope", "typo", time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
