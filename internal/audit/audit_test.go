package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/audit"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/storage/storagetest"
)

func TestRecord_PromotesContextIDs(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	w := audit.NewWriter(zerolog.Nop())

	entry, err := w.Record(ctx, s, audit.Entry{
		TenantID: "w-1",
		ActorID:  "operator-7",
		Action:   audit.InviteUsed,
		Context:  map[string]any{"invite_id": "i-1", "guest_id": "g-1", "uses_count": 1},
	})
	require.NoError(t, err)
	require.NotNil(t, entry.InviteID)
	assert.Equal(t, "i-1", *entry.InviteID)
	assert.Nil(t, entry.EventID)

	entries, err := s.ListAuditByInvite(ctx, "w-1", "i-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.InviteUsed, entries[0].Action)
	assert.Equal(t, "operator-7", *entries[0].ActorID)
	assert.EqualValues(t, 1, entries[0].Context["uses_count"])

	none, err := s.ListAuditByInvite(ctx, "w-2", "i-1")
	require.NoError(t, err)
	assert.Empty(t, none, "entries are tenant scoped")
}

func TestRecord_RollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	w := audit.NewWriter(zerolog.Nop())

	abort := errors.New("abort")
	err := s.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := w.Record(ctx, tx, audit.Entry{
			TenantID: "w-1",
			Action:   audit.CheckInRecorded,
			Context:  map[string]any{"event_id": "e-1"},
		}); err != nil {
			return err
		}
		return abort
	})
	require.ErrorIs(t, err, abort)

	entries, err := s.ListAuditByEvent(ctx, "w-1", "e-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecord_RequiresTenant(t *testing.T) {
	s := storagetest.Open(t)
	_, err := audit.NewWriter(zerolog.Nop()).Record(context.Background(), s, audit.Entry{Action: audit.InviteCreated})
	assert.Error(t, err)
}
