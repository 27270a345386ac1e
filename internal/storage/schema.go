package storage

import (
	"context"
	"fmt"
)

// Capabilities lists optional schema features. Installations created before
// invite limits or revocation existed lack those columns; the engine adapts
// instead of failing.
type Capabilities struct {
	// InviteLimits covers invites.max_uses and invites.expires_at.
	InviteLimits bool
	// InviteRevocation covers invites.revoked_at and invites.revoked_reason.
	InviteRevocation bool
}

// FullCapabilities is what a freshly migrated schema supports
func FullCapabilities() Capabilities {
	return Capabilities{InviteLimits: true, InviteRevocation: true}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS households (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		max_guests INTEGER,
		table_label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_households_tenant ON households (tenant_id)`,

	`CREATE TABLE IF NOT EXISTS guests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		household_id TEXT REFERENCES households (id),
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		is_child BOOLEAN NOT NULL DEFAULT FALSE,
		overall_rsvp_status TEXT NOT NULL DEFAULT 'no_response',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guests_tenant_email ON guests (tenant_id, email)`,
	`CREATE INDEX IF NOT EXISTS idx_guests_tenant_phone ON guests (tenant_id, phone)`,

	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		access_mode TEXT NOT NULL DEFAULT 'restricted',
		questions TEXT NOT NULL DEFAULT '[]',
		opens_at TIMESTAMP,
		closes_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, slug)
	)`,

	`CREATE TABLE IF NOT EXISTS rsvps (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		guest_id TEXT NOT NULL REFERENCES guests (id),
		event_id TEXT NOT NULL REFERENCES events (id),
		status TEXT NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		responded_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (guest_id, event_id)
	)`,

	`CREATE TABLE IF NOT EXISTS invites (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		household_id TEXT NOT NULL REFERENCES households (id),
		guest_id TEXT REFERENCES guests (id),
		token TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		uses_count INTEGER NOT NULL DEFAULT 0,
		max_uses INTEGER,
		expires_at TIMESTAMP,
		revoked_at TIMESTAMP,
		revoked_reason TEXT,
		used_at TIMESTAMP,
		sent_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invites_household ON invites (tenant_id, household_id)`,

	`CREATE TABLE IF NOT EXISTS checkins (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		guest_id TEXT NOT NULL REFERENCES guests (id),
		event_id TEXT REFERENCES events (id),
		event_key TEXT NOT NULL DEFAULT '',
		operator_id TEXT,
		method TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		checked_in_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_checkins_guest_event ON checkins (guest_id, event_key)`,
	`CREATE INDEX IF NOT EXISTS idx_checkins_tenant ON checkins (tenant_id, checked_in_at)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '{}',
		invite_id TEXT,
		event_id TEXT,
		guest_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_invite ON audit_logs (tenant_id, invite_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_logs (tenant_id, event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs (tenant_id, action, created_at)`,

	`CREATE TABLE IF NOT EXISTS delivery_logs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		invite_id TEXT,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_invite ON delivery_logs (tenant_id, invite_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_channel ON delivery_logs (tenant_id, channel, status, created_at)`,
}

// columnMigration adds a column to an existing table
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

// optionalColumns are the invite columns older installations may be missing.
var optionalColumns = []columnMigration{
	{"invites", "max_uses", "INTEGER"},
	{"invites", "expires_at", "TIMESTAMP"},
	{"invites", "revoked_at", "TIMESTAMP"},
	{"invites", "revoked_reason", "TEXT"},
}

// Migrate creates missing tables and indexes. Existing tables are left as
// they are; see UpgradeSchema for columns.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.log.Debug().Int("statements", len(schema)).Msg("Schema applied")
	return nil
}

// UpgradeSchema adds optional columns missing from existing tables.
func (s *Store) UpgradeSchema(ctx context.Context) error {
	for _, m := range optionalColumns {
		exists, err := s.hasTable(ctx, m.Table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		has, err := s.hasColumn(ctx, m.Table, m.Column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.Table, m.Column, err)
		}
		s.log.Info().Str("table", m.Table).Str("column", m.Column).Msg("Added column")
	}
	return nil
}

// DetectCapabilities inspects the invites table once.
func (s *Store) DetectCapabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities
	present := map[string]bool{}
	for _, m := range optionalColumns {
		has, err := s.hasColumn(ctx, m.Table, m.Column)
		if err != nil {
			return caps, err
		}
		present[m.Column] = has
	}
	caps.InviteLimits = present["max_uses"] && present["expires_at"]
	caps.InviteRevocation = present["revoked_at"] && present["revoked_reason"]
	return caps, nil
}

func (s *Store) hasTable(ctx context.Context, table string) (bool, error) {
	var count int
	var err error
	switch s.dialect {
	case DialectPostgres:
		err = s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`, table)
	default:
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	if s.dialect == DialectPostgres {
		var count int
		err := s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`,
			table, column)
		if err != nil {
			return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
		}
		return count > 0, nil
	}

	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to read table info for %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
