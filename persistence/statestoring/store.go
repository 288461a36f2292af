// Package statestoring persists entities by overwriting a versioned snapshot
// in place. No history is kept; the event returned by Persist is handed back
// to the caller for publication but never stored.
package statestoring

import (
	"context"
	"sync"

	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/message"
)

// Store is a versioned key/value store of snapshots.
//
// Versions start at 1 for the first Put and grow by one per successful Put.
// Put with expectedVersion 0 creates; it fails with *errors.ConflictError if
// the id already exists. Otherwise expectedVersion must equal the stored
// version.
type Store[E message.Entity] interface {
	Get(ctx context.Context, id string) (entity E, version uint64, found bool, err error)
	Put(ctx context.Context, id string, entity E, expectedVersion uint64) (version uint64, err error)
}

type versioned[E any] struct {
	entity  E
	version uint64
}

// MemoryStore is an in-process Store.
type MemoryStore[E message.Entity] struct {
	mutex sync.RWMutex
	items map[string]versioned[E]
}

var _ Store[message.Entity] = (*MemoryStore[message.Entity])(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore[E message.Entity]() *MemoryStore[E] {
	return &MemoryStore[E]{items: make(map[string]versioned[E])}
}

func (m *MemoryStore[E]) Get(_ context.Context, id string) (E, uint64, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	item, ok := m.items[id]

	return item.entity, item.version, ok, nil
}

func (m *MemoryStore[E]) Put(_ context.Context, id string, entity E, expectedVersion uint64) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	current := m.items[id].version
	if current != expectedVersion {
		return current, &fsmerrors.ConflictError{ID: id, Expected: expectedVersion, Actual: current}
	}

	next := current + 1
	m.items[id] = versioned[E]{entity: entity, version: next}

	return next, nil
}

// Len returns the number of stored entities.
func (m *MemoryStore[E]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.items)
}
