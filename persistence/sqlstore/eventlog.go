package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/amp-labs/amp-fsm/automate"
	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/persistence/eventsourcing"
	"github.com/google/uuid"
)

const (
	queryEventHead = `SELECT COALESCE(MAX(version), 0) FROM fsm_events WHERE entity_id = ?`
	queryEventAdd  = `INSERT INTO fsm_events (entity_id, version, record_id, event_type, payload, recorded_at)
VALUES (?, ?, ?, ?, ?, ?)`
	queryEventRead = `SELECT version, record_id, event_type, payload, recorded_at
FROM fsm_events WHERE entity_id = ? AND version > ? ORDER BY version`
)

// EventLog is an eventsourcing.EventLog backed by the fsm_events table.
type EventLog struct {
	store    *Store
	registry *eventsourcing.EventRegistry
}

var _ eventsourcing.EventLog = (*EventLog)(nil)

// NewEventLog returns a log that decodes events through registry.
func NewEventLog(store *Store, registry *eventsourcing.EventRegistry) *EventLog {
	return &EventLog{store: store, registry: registry}
}

func (l *EventLog) Append(ctx context.Context, id string, expectedVersion uint64, rec eventsourcing.Record) (uint64, error) {
	payload, err := l.store.codec.Marshal(rec.Event)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", rec.Event.EventType(), err)
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	recordedAt := l.store.nowMillis()
	if !rec.RecordedAt.IsZero() {
		recordedAt = rec.RecordedAt.UTC().UnixMilli()
	}

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	head, err := currentVersion(ctx, tx, queryEventHead, id)
	if err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}

	if head != expectedVersion {
		return 0, &fsmerrors.ConflictError{ID: id, Expected: expectedVersion, Actual: head}
	}

	next := head + 1

	if _, err := tx.ExecContext(ctx, queryEventAdd,
		id, next, rec.ID.String(), string(rec.Event.EventType()), payload, recordedAt,
	); err != nil {
		_ = tx.Rollback()

		return 0, l.appendFailure(ctx, id, expectedVersion, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, l.appendFailure(ctx, id, expectedVersion, err)
	}

	return next, nil
}

// appendFailure reports a lost race as a conflict. Drivers disagree on how
// they surface key violations, so the head is read again instead. The
// transaction must be finished before calling it.
func (l *EventLog) appendFailure(ctx context.Context, id string, expected uint64, cause error) error {
	var head uint64

	if err := l.store.db.QueryRowContext(ctx, queryEventHead, id).Scan(&head); err == nil && head != expected {
		return &fsmerrors.ConflictError{ID: id, Expected: expected, Actual: head}
	}

	return fmt.Errorf("append event: %w", cause)
}

func (l *EventLog) Read(ctx context.Context, id string, afterVersion uint64) ([]eventsourcing.Record, error) {
	rows, err := l.store.db.QueryContext(ctx, queryEventRead, id, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var out []eventsourcing.Record

	for rows.Next() {
		rec, err := l.scan(id, rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return out, nil
}

func (l *EventLog) scan(id string, rows *sql.Rows) (eventsourcing.Record, error) {
	var (
		version    uint64
		recordID   string
		eventType  string
		payload    []byte
		recordedAt int64
	)

	if err := rows.Scan(&version, &recordID, &eventType, &payload, &recordedAt); err != nil {
		return eventsourcing.Record{}, fmt.Errorf("scan event: %w", err)
	}

	parsed, err := uuid.Parse(recordID)
	if err != nil {
		return eventsourcing.Record{}, fmt.Errorf("parse record id %q: %w", recordID, err)
	}

	event, err := l.registry.Decode(automate.EventType(eventType), payload, l.store.codec.Unmarshal)
	if err != nil {
		// An undecodable record is a data or code defect, not a storage fault.
		return eventsourcing.Record{}, &fsmerrors.ProjectionError{
			ID:        id,
			EventType: eventType,
			Version:   version,
			Err:       err,
		}
	}

	return eventsourcing.Record{
		ID:         parsed,
		EntityID:   id,
		Version:    version,
		Event:      event,
		RecordedAt: time.UnixMilli(recordedAt).UTC(),
	}, nil
}
