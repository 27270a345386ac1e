// Package storagetest opens throwaway SQLite stores and seeds fixtures for
// package tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
)

// Open returns a migrated store backed by a file in t.TempDir().
func Open(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Options{
		Driver:  string(storage.DialectSQLite),
		DSN:     filepath.Join(t.TempDir(), "wedding.db"),
		Migrate: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// LegacyInvitesTable is the invites table as it was before invite limits
// and revocation existed.
const LegacyInvitesTable = `CREATE TABLE invites (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	household_id TEXT NOT NULL,
	guest_id TEXT,
	token TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	channel TEXT NOT NULL,
	status TEXT NOT NULL,
	uses_count INTEGER NOT NULL DEFAULT 0,
	used_at TIMESTAMP,
	sent_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// CreateLegacy writes a database at path holding only LegacyInvitesTable.
func CreateLegacy(t *testing.T, path string) {
	t.Helper()
	raw, err := sqlx.Connect(string(storage.DialectSQLite), path)
	require.NoError(t, err)
	_, err = raw.Exec(LegacyInvitesTable)
	require.NoError(t, err)
	require.NoError(t, raw.Close())
}

// OpenLegacy returns a migrated store whose invites table lacks the limit
// and revocation columns.
func OpenLegacy(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	CreateLegacy(t, path)
	s, err := storage.Open(context.Background(), storage.Options{
		Driver:  string(storage.DialectSQLite),
		DSN:     path,
		Migrate: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Now is a fixed UTC instant fixtures are stamped with.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Household inserts a household of tenant.
func Household(t *testing.T, s *storage.Store, tenantID, name string) *models.Household {
	t.Helper()
	now := Now()
	h := &models.Household{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.InsertHousehold(context.Background(), h))
	return h
}

// Guest inserts a guest of tenant, optionally in a household.
func Guest(t *testing.T, s *storage.Store, tenantID string, household *models.Household, name, email, phone string) *models.Guest {
	t.Helper()
	now := Now()
	g := &models.Guest{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Name:              name,
		Email:             email,
		Phone:             phone,
		OverallRSVPStatus: models.RSVPNoResponse,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if household != nil {
		g.HouseholdID = &household.ID
	}
	require.NoError(t, s.InsertGuest(context.Background(), g))
	return g
}

// Event inserts an active event of tenant with the given questions.
func Event(t *testing.T, s *storage.Store, tenantID, slug string, mode models.AccessMode, questions ...models.Question) *models.Event {
	t.Helper()
	e := &models.Event{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Slug:       slug,
		Name:       slug,
		Active:     true,
		AccessMode: mode,
		Questions:  questions,
		CreatedAt:  Now(),
	}
	require.NoError(t, s.InsertEvent(context.Background(), e))
	return e
}
