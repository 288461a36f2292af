package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/persistence"
	"github.com/google/uuid"
)

// ErrEntityQuarantined is returned by Load for an entity whose replay failed
// earlier. The error also matches errors.ErrProjection.
var ErrEntityQuarantined = errors.New("entity quarantined after projection failure")

// QuarantinedError is returned for every Load of a quarantined entity until
// Reinstate is called.
type QuarantinedError struct {
	Cause *fsmerrors.ProjectionError
}

func (e *QuarantinedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrEntityQuarantined, e.Cause)
}

func (e *QuarantinedError) Is(target error) bool {
	return target == ErrEntityQuarantined
}

func (e *QuarantinedError) Unwrap() error {
	return e.Cause
}

// Option configures an Adapter.
type Option func(*options)

type options struct {
	name          string
	snapshotEvery uint64
	now           func() time.Time
}

// WithName labels the adapter's metrics and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock overrides the clock used to stamp records and snapshots.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Adapter implements persistence.Adapter over an EventLog and a Projector.
type Adapter[E message.Entity] struct {
	log       EventLog
	projector Projector[E]
	snapshots SnapshotStore[E]
	opts      options

	mutex       sync.Mutex
	quarantined map[string]*fsmerrors.ProjectionError
}

var _ persistence.Adapter[message.Entity] = (*Adapter[message.Entity])(nil)

// New returns an Adapter that appends to log and folds with projector.
func New[E message.Entity](log EventLog, projector Projector[E], opts ...Option) *Adapter[E] {
	o := options{name: "eventsourcing", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Adapter[E]{
		log:         log,
		projector:   projector,
		opts:        o,
		quarantined: make(map[string]*fsmerrors.ProjectionError),
	}
}

// WithSnapshots caches a fold in store after every `every` events. An every
// of zero disables snapshotting. It returns the adapter for chaining.
func (a *Adapter[E]) WithSnapshots(store SnapshotStore[E], every uint64) *Adapter[E] {
	a.snapshots = store
	a.opts.snapshotEvery = every

	return a
}

// Load folds the stream of id. The version is that of the last event folded,
// which is the stream head.
func (a *Adapter[E]) Load(ctx context.Context, id string) (E, uint64, bool, error) {
	var zero E

	if cause := a.quarantine(id); cause != nil {
		return zero, 0, false, &QuarantinedError{Cause: cause}
	}

	entity, version, found, err := a.fold(ctx, id, a.snapshots != nil)
	if err != nil {
		return zero, 0, false, err
	}

	return entity, version, found, nil
}

func (a *Adapter[E]) LoadMany(ctx context.Context, ids []string) <-chan persistence.Loaded[E] {
	return persistence.LoadEach(ctx, ids, a.Load)
}

func (a *Adapter[E]) PersistInit(ctx context.Context, entity E, event message.Event) (message.Event, error) {
	return a.append(ctx, "persist_init", entity.EntityID(), 0, event)
}

// Persist appends event after version expected. Only the event is stored;
// the entity is rebuilt by the next Load.
func (a *Adapter[E]) Persist(ctx context.Context, entity E, event message.Event, expected uint64) (message.Event, error) {
	id := entity.EntityID()

	if expected == 0 {
		return nil, &fsmerrors.NotFoundError{ID: id}
	}

	return a.append(ctx, "persist", id, expected, event)
}

func (a *Adapter[E]) append(ctx context.Context, op, id string, expected uint64, event message.Event) (message.Event, error) {
	rec := Record{
		ID:         uuid.New(),
		EntityID:   id,
		Event:      event,
		RecordedAt: a.opts.now().UTC(),
	}

	version, err := a.log.Append(ctx, id, expected, rec)
	if err != nil {
		return nil, logger.AnnotateError(fsmerrors.NewPersistenceError(op, id, err),
			"entity_id", id, "expected_version", expected)
	}

	eventsAppended.WithLabelValues(a.opts.name, string(event.EventType())).Inc()

	logger.Get(ctx).Debug("event appended",
		"entity_id", id,
		"event_type", string(event.EventType()),
		"version", version)

	if a.snapshots != nil && a.opts.snapshotEvery > 0 && version%a.opts.snapshotEvery == 0 {
		a.snapshot(ctx, id)
	}

	return event, nil
}

// snapshot folds the stream and caches the result. Failures are logged and
// otherwise ignored; the log stays authoritative.
func (a *Adapter[E]) snapshot(ctx context.Context, id string) {
	entity, version, found, err := a.fold(ctx, id, true)
	if err != nil || !found {
		logger.Get(ctx).Warn("skipping snapshot", "entity_id", id, "error", err)

		return
	}

	records, err := a.log.Read(ctx, id, version-1)
	if err != nil || len(records) == 0 {
		logger.Get(ctx).Warn("skipping snapshot", "entity_id", id, "error", err)

		return
	}

	snap := Snapshot[E]{
		EntityID: id,
		Version:  version,
		RecordID: records[0].ID,
		Entity:   entity,
		TakenAt:  a.opts.now().UTC(),
	}

	if err := a.snapshots.SaveSnapshot(ctx, snap); err != nil {
		logger.Get(ctx).Warn("failed to save snapshot", "entity_id", id, "version", version, "error", err)

		return
	}

	snapshotsSaved.WithLabelValues(a.opts.name).Inc()
}

// fold rebuilds the entity from the log, starting from the cached snapshot
// when useSnapshot is set and the snapshot still matches the log.
func (a *Adapter[E]) fold(ctx context.Context, id string, useSnapshot bool) (E, uint64, bool, error) {
	var (
		zero     E
		entity   E
		version  uint64
		hasPrior bool
		records  []Record
	)

	if useSnapshot && a.snapshots != nil {
		snap, ok, err := a.snapshots.LoadSnapshot(ctx, id)
		if err != nil {
			logger.Get(ctx).Warn("ignoring unreadable snapshot", "entity_id", id, "error", err)
		} else if ok && snap.Version > 0 {
			tail, err := a.log.Read(ctx, id, snap.Version-1)
			if err != nil {
				return zero, 0, false, a.readFailure(ctx, id, err)
			}

			if len(tail) > 0 && tail[0].Version == snap.Version && tail[0].ID == snap.RecordID {
				entity, version, hasPrior = snap.Entity, snap.Version, true
				records = tail[1:]
			}
		}
	}

	if !hasPrior {
		all, err := a.log.Read(ctx, id, 0)
		if err != nil {
			return zero, 0, false, a.readFailure(ctx, id, err)
		}

		records = all
	}

	for _, rec := range records {
		next, err := a.projector.Evolve(rec.Event, entity, hasPrior)
		if err != nil {
			return zero, 0, false, a.poison(ctx, &fsmerrors.ProjectionError{
				ID:        id,
				EventType: string(rec.Event.EventType()),
				Version:   rec.Version,
				Err:       err,
			})
		}

		entity, version, hasPrior = next, rec.Version, true
	}

	eventsReplayed.WithLabelValues(a.opts.name).Add(float64(len(records)))

	return entity, version, hasPrior, nil
}

// readFailure classifies a log read error. A log that cannot decode one of
// its records reports a ProjectionError, which quarantines the entity.
func (a *Adapter[E]) readFailure(ctx context.Context, id string, err error) error {
	var pe *fsmerrors.ProjectionError
	if errors.As(err, &pe) {
		return a.poison(ctx, pe)
	}

	return logger.AnnotateError(fsmerrors.NewPersistenceError("load", id, err), "entity_id", id)
}

func (a *Adapter[E]) poison(ctx context.Context, pe *fsmerrors.ProjectionError) error {
	a.mutex.Lock()
	a.quarantined[pe.ID] = pe
	a.mutex.Unlock()

	projectionFailures.WithLabelValues(a.opts.name, pe.EventType).Inc()

	logger.Get(logger.WithAlert(ctx)).Error("entity quarantined after projection failure",
		"entity_id", pe.ID,
		"event_type", pe.EventType,
		"version", pe.Version,
		"error", pe.Err)

	return pe
}

// Reinstate lifts the quarantine on id, typically after the projector or the
// data has been fixed. The next Load replays from scratch.
func (a *Adapter[E]) Reinstate(id string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	delete(a.quarantined, id)
}

// Quarantined returns the ids currently quarantined.
func (a *Adapter[E]) Quarantined() []string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make([]string, 0, len(a.quarantined))
	for id := range a.quarantined {
		out = append(out, id)
	}

	return out
}

// History returns every event of id in order.
func (a *Adapter[E]) History(ctx context.Context, id string) ([]message.Event, error) {
	records, err := a.log.Read(ctx, id, 0)
	if err != nil {
		return nil, logger.AnnotateError(fsmerrors.NewPersistenceError("history", id, err), "entity_id", id)
	}

	out := make([]message.Event, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Event)
	}

	return out, nil
}

// Replay folds the events of id up to and including version upTo, ignoring
// snapshots. It answers "what was the entity at version N". It does not touch
// the quarantine.
func (a *Adapter[E]) Replay(ctx context.Context, id string, upTo uint64) (E, bool, error) {
	var (
		entity   E
		hasPrior bool
	)

	records, err := a.log.Read(ctx, id, 0)
	if err != nil {
		var zero E

		return zero, false, logger.AnnotateError(fsmerrors.NewPersistenceError("replay", id, err), "entity_id", id)
	}

	for _, rec := range records {
		if rec.Version > upTo {
			break
		}

		next, err := a.projector.Evolve(rec.Event, entity, hasPrior)
		if err != nil {
			var zero E

			return zero, false, &fsmerrors.ProjectionError{
				ID:        id,
				EventType: string(rec.Event.EventType()),
				Version:   rec.Version,
				Err:       err,
			}
		}

		entity, hasPrior = next, true
	}

	return entity, hasPrior, nil
}

func (a *Adapter[E]) quarantine(id string) *fsmerrors.ProjectionError {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.quarantined[id]
}
