// Package sqlstore keeps event logs, snapshots and state-storing snapshots in
// a database/sql database.
//
// The caller opens the *sql.DB with the driver of their choice; this package
// imports none. Statements use SQLite syntax with ? placeholders.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNilDB is returned by Open when no database is given.
var ErrNilDB = errors.New("sql db is required")

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the payload codec. The default is JSONCodec.
func WithCodec(codec Codec) Option {
	return func(s *Store) { s.codec = codec }
}

// WithClock overrides the clock used for bookkeeping columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithoutMigrations skips schema creation, for databases managed elsewhere.
func WithoutMigrations() Option {
	return func(s *Store) { s.migrate = false }
}

// Store is a schema-initialized database handle shared by the event log,
// snapshot store and state store of this package.
type Store struct {
	db      *sql.DB
	codec   Codec
	now     func() time.Time
	migrate bool
}

// Open prepares db for use, creating the schema unless WithoutMigrations is
// given.
func Open(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	s := &Store{
		db:      db,
		codec:   JSONCodec{},
		now:     time.Now,
		migrate: true,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.migrate {
		if err := applyMigrations(ctx, db, migrationFS, migrationRoot); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}

// currentVersion reads the version column of table for id inside tx. A
// missing row is version zero.
func currentVersion(ctx context.Context, tx *sql.Tx, query, id string) (uint64, error) {
	var version uint64

	err := tx.QueryRowContext(ctx, query, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return version, err
}
