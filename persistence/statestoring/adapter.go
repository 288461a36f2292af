package statestoring

import (
	"context"

	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/persistence"
)

// Adapter implements persistence.Adapter over a Store.
//
// Load hands out the store version and Persist uses it as the expected
// version of the Put. A write by anyone else in between surfaces as
// *errors.ConflictError; the adapter never retries. It keeps no per-id state.
type Adapter[E message.Entity] struct {
	store Store[E]
}

var _ persistence.Adapter[message.Entity] = (*Adapter[message.Entity])(nil)

// New returns an Adapter over store.
func New[E message.Entity](store Store[E]) *Adapter[E] {
	return &Adapter[E]{store: store}
}

func (a *Adapter[E]) Load(ctx context.Context, id string) (E, uint64, bool, error) {
	entity, version, found, err := a.store.Get(ctx, id)
	if err != nil {
		var zero E

		return zero, 0, false, logger.AnnotateError(fsmerrors.NewPersistenceError("load", id, err), "entity_id", id)
	}

	if !found {
		var zero E

		return zero, 0, false, nil
	}

	return entity, version, true, nil
}

func (a *Adapter[E]) LoadMany(ctx context.Context, ids []string) <-chan persistence.Loaded[E] {
	return persistence.LoadEach(ctx, ids, a.Load)
}

func (a *Adapter[E]) PersistInit(ctx context.Context, entity E, event message.Event) (message.Event, error) {
	return a.put(ctx, "persist_init", entity, event, 0)
}

func (a *Adapter[E]) Persist(ctx context.Context, entity E, event message.Event, expected uint64) (message.Event, error) {
	if expected == 0 {
		return nil, &fsmerrors.NotFoundError{ID: entity.EntityID()}
	}

	return a.put(ctx, "persist", entity, event, expected)
}

func (a *Adapter[E]) put(ctx context.Context, op string, entity E, event message.Event, expected uint64) (message.Event, error) {
	id := entity.EntityID()

	version, err := a.store.Put(ctx, id, entity, expected)
	if err != nil {
		return nil, logger.AnnotateError(fsmerrors.NewPersistenceError(op, id, err),
			"entity_id", id, "expected_version", expected)
	}

	logger.Get(ctx).Debug("snapshot stored",
		"entity_id", id,
		"state", string(entity.CurrentState()),
		"event_type", string(event.EventType()),
		"version", version)

	return event, nil
}
