package eventsourcing

import (
	"context"
	"sync"
	"time"

	"github.com/amp-labs/amp-fsm/message"
	"github.com/google/uuid"
)

// Snapshot is a cached fold of an entity's stream up to Version.
type Snapshot[E message.Entity] struct {
	EntityID string
	Version  uint64

	// RecordID is the id of the record at Version. A snapshot whose record
	// is not in the log is ignored.
	RecordID uuid.UUID
	Entity   E
	TakenAt  time.Time
}

// SnapshotStore caches snapshots. It is never the system of record: losing
// every snapshot only makes loads slower.
type SnapshotStore[E message.Entity] interface {
	LoadSnapshot(ctx context.Context, id string) (Snapshot[E], bool, error)
	SaveSnapshot(ctx context.Context, snap Snapshot[E]) error
}

// MemorySnapshots is an in-process SnapshotStore.
type MemorySnapshots[E message.Entity] struct {
	mutex sync.RWMutex
	snaps map[string]Snapshot[E]
}

var _ SnapshotStore[message.Entity] = (*MemorySnapshots[message.Entity])(nil)

// NewMemorySnapshots returns an empty MemorySnapshots.
func NewMemorySnapshots[E message.Entity]() *MemorySnapshots[E] {
	return &MemorySnapshots[E]{snaps: make(map[string]Snapshot[E])}
}

func (m *MemorySnapshots[E]) LoadSnapshot(_ context.Context, id string) (Snapshot[E], bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap, ok := m.snaps[id]

	return snap, ok, nil
}

// SaveSnapshot keeps snap unless a newer snapshot is already stored.
func (m *MemorySnapshots[E]) SaveSnapshot(_ context.Context, snap Snapshot[E]) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if prior, ok := m.snaps[snap.EntityID]; ok && prior.Version > snap.Version {
		return nil
	}

	m.snaps[snap.EntityID] = snap

	return nil
}
