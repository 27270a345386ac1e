package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Dialect is the SQL backend behind a Store
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Options configures Open
type Options struct {
	Driver        string
	DSN           string
	Migrate       bool
	UpgradeSchema bool
	MaxOpenConns  int
}

// Store is the tenant datastore. Reads can run directly on the Store; every
// mutation runs inside WithTx so its audit entry commits or aborts with it.
type Store struct {
	Queries
	db  *sqlx.DB
	log zerolog.Logger
}

// Tx is one database transaction. Row locks are only available here.
type Tx struct {
	Queries
	tx *sqlx.Tx
}

// Queries holds the statements shared by Store and Tx
type Queries struct {
	q       sqlx.ExtContext
	dialect Dialect
	caps    Capabilities
}

// Open connects to the database, optionally migrates it and detects which
// optional invite columns the schema carries.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (*Store, error) {
	dialect := Dialect(opts.Driver)
	dsn := opts.DSN
	switch dialect {
	case DialectSQLite:
		dsn = sqliteDSN(dsn)
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s := &Store{
		Queries: Queries{q: db, dialect: dialect},
		db:      db,
		log:     log.With().Str("component", "storage").Logger(),
	}

	if opts.Migrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	if opts.UpgradeSchema {
		if err := s.UpgradeSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	caps, err := s.DetectCapabilities(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.caps = caps
	s.log.Info().
		Str("dialect", string(dialect)).
		Bool("invite_limits", caps.InviteLimits).
		Bool("invite_revocation", caps.InviteRevocation).
		Msg("Database ready")

	return s, nil
}

// New wraps an already open handle with fixed capabilities.
func New(db *sqlx.DB, caps Capabilities, log zerolog.Logger) *Store {
	return &Store{
		Queries: Queries{q: db, dialect: Dialect(db.DriverName()), caps: caps},
		db:      db,
		log:     log.With().Str("component", "storage").Logger(),
	}
}

// sqliteDSN makes every transaction take the write lock up front so that a
// read-validate-write sequence inside WithTx cannot interleave with another
// writer. SQLite has no row locks; this is its equivalent of FOR UPDATE.
func sqliteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, param := range []string{"_txlock=immediate", "_busy_timeout=10000", "_foreign_keys=on", "_journal_mode=WAL"} {
		key := param[:strings.Index(param, "=")+1]
		if !strings.Contains(dsn, key) {
			dsn += sep + param
			sep = "&"
		}
	}
	return dsn
}

// Dialect returns the SQL backend
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Capabilities returns the schema features detected at startup
func (s *Store) Capabilities() Capabilities {
	return s.caps
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a transaction, committing if it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{
		Queries: Queries{q: sqlTx, dialect: s.dialect, caps: s.caps},
		tx:      sqlTx,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (q Queries) forUpdate() string {
	if q.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q Queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.q, dest, q.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q Queries) list(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.q, dest, q.q.Rebind(query), args...)
}

func (q Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.q.Rebind(query), args...)
}

// execOne runs an UPDATE that must touch exactly one row.
func (q Queries) execOne(ctx context.Context, query string, args ...any) error {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
