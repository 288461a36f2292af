package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/persistence/statestoring"
)

const (
	queryStateGet     = `SELECT version, payload FROM fsm_states WHERE entity_id = ?`
	queryStateVersion = `SELECT version FROM fsm_states WHERE entity_id = ?`
	queryStateInsert  = `INSERT INTO fsm_states (entity_id, version, payload, updated_at) VALUES (?, 1, ?, ?)`
	queryStateUpdate  = `UPDATE fsm_states SET version = version + 1, payload = ?, updated_at = ?
WHERE entity_id = ? AND version = ?`
)

// StateStore is a statestoring.Store backed by the fsm_states table.
type StateStore[E message.Entity] struct {
	store *Store
}

var _ statestoring.Store[message.Entity] = (*StateStore[message.Entity])(nil)

// NewStateStore returns a state store for entities of type E.
func NewStateStore[E message.Entity](store *Store) *StateStore[E] {
	return &StateStore[E]{store: store}
}

func (s *StateStore[E]) Get(ctx context.Context, id string) (E, uint64, bool, error) {
	var (
		zero    E
		version uint64
		payload []byte
	)

	err := s.store.db.QueryRowContext(ctx, queryStateGet, id).Scan(&version, &payload)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return zero, 0, false, nil
	case err != nil:
		return zero, 0, false, fmt.Errorf("query state: %w", err)
	}

	var entity E

	if err := s.store.codec.Unmarshal(payload, &entity); err != nil {
		return zero, 0, false, fmt.Errorf("decode state: %w", err)
	}

	return entity, version, true, nil
}

func (s *StateStore[E]) Put(ctx context.Context, id string, entity E, expectedVersion uint64) (uint64, error) {
	payload, err := s.store.codec.Marshal(entity)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	current, err := currentVersion(ctx, tx, queryStateVersion, id)
	if err != nil {
		return 0, fmt.Errorf("read state version: %w", err)
	}

	if current != expectedVersion {
		return 0, &fsmerrors.ConflictError{ID: id, Expected: expectedVersion, Actual: current}
	}

	now := s.store.nowMillis()

	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx, queryStateInsert, id, payload, now)
	} else {
		err = updateOne(ctx, tx, payload, now, id, expectedVersion)
	}

	if err == nil {
		err = tx.Commit()
	} else {
		_ = tx.Rollback()
	}

	if err != nil {
		return 0, s.putFailure(ctx, id, expectedVersion, err)
	}

	return expectedVersion + 1, nil
}

var errNoRowUpdated = errors.New("no row updated")

func updateOne(ctx context.Context, tx *sql.Tx, payload []byte, now int64, id string, expected uint64) error {
	res, err := tx.ExecContext(ctx, queryStateUpdate, payload, now, id, expected)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n != 1 {
		return errNoRowUpdated
	}

	return nil
}

func (s *StateStore[E]) putFailure(ctx context.Context, id string, expected uint64, cause error) error {
	var current uint64

	err := s.store.db.QueryRowContext(ctx, queryStateVersion, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current, err = 0, nil
	}

	if err == nil && current != expected {
		return &fsmerrors.ConflictError{ID: id, Expected: expected, Actual: current}
	}

	return fmt.Errorf("put state: %w", cause)
}
