// Package persistence defines the port the engine uses to load and commit
// entities. Two strategies implement it: statestoring overwrites a snapshot
// in place and eventsourcing appends events to a log and replays them.
package persistence

import (
	"context"

	"github.com/amp-labs/amp-fsm/message"
)

// Adapter loads and stores entities of type E.
//
// Implementations must give read-your-writes: an entity persisted by one call
// is visible to the next Load for the same id. Storage failures are reported
// as *errors.PersistenceError and optimistic version mismatches as
// *errors.ConflictError.
//
// Versions start at 1 for a created entity. A Persist carries the version its
// snapshot was computed from, so a write by anyone else since that Load is a
// conflict no matter who has read the entity in between.
type Adapter[E message.Entity] interface {
	// Load returns the entity and its version, or false if the id is unknown.
	Load(ctx context.Context, id string) (E, uint64, bool, error)

	// LoadMany streams one Loaded per id, in order. The channel closes after
	// the last id or when ctx is done.
	LoadMany(ctx context.Context, ids []string) <-chan Loaded[E]

	// PersistInit stores a newly created entity. It fails with a conflict if
	// the id already exists.
	PersistInit(ctx context.Context, entity E, event message.Event) (message.Event, error)

	// Persist stores the outcome of a transition on an existing entity.
	// expected is the version returned by the Load the transition started
	// from. Zero means the entity was never loaded and yields
	// *errors.NotFoundError.
	Persist(ctx context.Context, entity E, event message.Event, expected uint64) (message.Event, error)
}

// Loaded is one element of a LoadMany stream.
type Loaded[E message.Entity] struct {
	ID      string
	Entity  E
	Version uint64
	Found   bool
	Err     error
}

// LoadEach implements LoadMany on top of a Load function, for adapters with
// no native batch read.
func LoadEach[E message.Entity](
	ctx context.Context,
	ids []string,
	load func(ctx context.Context, id string) (E, uint64, bool, error),
) <-chan Loaded[E] {
	out := make(chan Loaded[E])

	go func() {
		defer close(out)

		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}

			entity, version, found, err := load(ctx, id)

			select {
			case out <- Loaded[E]{ID: id, Entity: entity, Version: version, Found: found, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
