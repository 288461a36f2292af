package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/persistence/eventsourcing"
	"github.com/google/uuid"
)

const (
	querySnapshotGet = `SELECT version, record_id, payload, taken_at FROM fsm_snapshots WHERE entity_id = ?`
	querySnapshotPut = `INSERT INTO fsm_snapshots (entity_id, version, record_id, payload, taken_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (entity_id) DO UPDATE SET
    version = excluded.version,
    record_id = excluded.record_id,
    payload = excluded.payload,
    taken_at = excluded.taken_at
WHERE excluded.version >= fsm_snapshots.version`
)

// SnapshotStore is an eventsourcing.SnapshotStore backed by the
// fsm_snapshots table. Only the newest snapshot per entity is kept.
type SnapshotStore[E message.Entity] struct {
	store *Store
}

var _ eventsourcing.SnapshotStore[message.Entity] = (*SnapshotStore[message.Entity])(nil)

// NewSnapshotStore returns a snapshot store for entities of type E.
func NewSnapshotStore[E message.Entity](store *Store) *SnapshotStore[E] {
	return &SnapshotStore[E]{store: store}
}

func (s *SnapshotStore[E]) LoadSnapshot(ctx context.Context, id string) (eventsourcing.Snapshot[E], bool, error) {
	var (
		version  uint64
		recordID string
		payload  []byte
		takenAt  int64
	)

	err := s.store.db.QueryRowContext(ctx, querySnapshotGet, id).Scan(&version, &recordID, &payload, &takenAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return eventsourcing.Snapshot[E]{}, false, nil
	case err != nil:
		return eventsourcing.Snapshot[E]{}, false, fmt.Errorf("query snapshot: %w", err)
	}

	parsed, err := uuid.Parse(recordID)
	if err != nil {
		return eventsourcing.Snapshot[E]{}, false, fmt.Errorf("parse record id %q: %w", recordID, err)
	}

	var entity E

	if err := s.store.codec.Unmarshal(payload, &entity); err != nil {
		return eventsourcing.Snapshot[E]{}, false, fmt.Errorf("decode snapshot: %w", err)
	}

	return eventsourcing.Snapshot[E]{
		EntityID: id,
		Version:  version,
		RecordID: parsed,
		Entity:   entity,
		TakenAt:  time.UnixMilli(takenAt).UTC(),
	}, true, nil
}

func (s *SnapshotStore[E]) SaveSnapshot(ctx context.Context, snap eventsourcing.Snapshot[E]) error {
	payload, err := s.store.codec.Marshal(snap.Entity)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	takenAt := s.store.nowMillis()
	if !snap.TakenAt.IsZero() {
		takenAt = snap.TakenAt.UTC().UnixMilli()
	}

	if _, err := s.store.db.ExecContext(ctx, querySnapshotPut,
		snap.EntityID, snap.Version, snap.RecordID.String(), payload, takenAt,
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}
