// Package eventsourcing persists entities as an append-only log of events.
// The current snapshot of an entity is never stored as the system of record;
// it is rebuilt by folding the entity's events with a Projector, optionally
// starting from a cached snapshot.
package eventsourcing

import (
	"context"
	"slices"
	"sync"
	"time"

	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/google/uuid"
)

// Record is one entry of an entity's event stream.
type Record struct {
	// ID uniquely identifies the record across all streams.
	ID uuid.UUID

	// EntityID names the stream.
	EntityID string

	// Version is the record's position in its stream, starting at 1.
	Version uint64

	// Event is the stored event.
	Event message.Event

	// RecordedAt is when the record was appended.
	RecordedAt time.Time
}

// EventLog is an append-only store of per-entity event streams.
type EventLog interface {
	// Append writes rec at position expectedVersion+1 of stream id and
	// returns the new version. It fails with *errors.ConflictError if the
	// stream's current version is not expectedVersion. An expectedVersion of
	// zero creates the stream.
	Append(ctx context.Context, id string, expectedVersion uint64, rec Record) (uint64, error)

	// Read returns the records of stream id whose version is greater than
	// afterVersion, in version order. An unknown stream yields no records.
	Read(ctx context.Context, id string, afterVersion uint64) ([]Record, error)
}

// MemoryLog is an in-process EventLog.
type MemoryLog struct {
	mutex   sync.RWMutex
	streams map[string][]Record
}

var _ EventLog = (*MemoryLog)(nil)

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]Record)}
}

func (m *MemoryLog) Append(_ context.Context, id string, expectedVersion uint64, rec Record) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stream := m.streams[id]

	current := uint64(len(stream))
	if current != expectedVersion {
		return current, &fsmerrors.ConflictError{ID: id, Expected: expectedVersion, Actual: current}
	}

	rec.EntityID = id
	rec.Version = current + 1
	m.streams[id] = append(stream, rec)

	return rec.Version, nil
}

func (m *MemoryLog) Read(_ context.Context, id string, afterVersion uint64) ([]Record, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stream := m.streams[id]
	if afterVersion >= uint64(len(stream)) {
		return nil, nil
	}

	return slices.Clone(stream[afterVersion:]), nil
}

// Streams returns the number of streams in the log.
func (m *MemoryLog) Streams() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.streams)
}
