package eventsourcing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/amp-labs/amp-fsm/automate"
	"github.com/amp-labs/amp-fsm/message"
)

var (
	// ErrUnhandledEvent is returned by a TypeSwitchProjector for an event
	// type it has no fold for.
	ErrUnhandledEvent = errors.New("no fold registered for event type")
	// ErrIncompleteProjector is returned by CheckCoverage.
	ErrIncompleteProjector = errors.New("projector does not cover every result type")
)

// Projector folds events into a snapshot. Evolve must be deterministic:
// the same events in the same order always give the same snapshot.
//
// hasPrior is false for the first event of a stream, in which case prior is
// the zero value.
type Projector[E message.Entity] interface {
	Evolve(event message.Event, prior E, hasPrior bool) (E, error)
}

// ProjectorFunc adapts a function to a Projector.
type ProjectorFunc[E message.Entity] func(event message.Event, prior E, hasPrior bool) (E, error)

func (f ProjectorFunc[E]) Evolve(event message.Event, prior E, hasPrior bool) (E, error) {
	return f(event, prior, hasPrior)
}

// TypeSwitchProjector dispatches on the event type.
type TypeSwitchProjector[E message.Entity] struct {
	folds map[automate.EventType]ProjectorFunc[E]
}

// NewTypeSwitchProjector returns a projector with no folds.
func NewTypeSwitchProjector[E message.Entity]() *TypeSwitchProjector[E] {
	return &TypeSwitchProjector[E]{folds: make(map[automate.EventType]ProjectorFunc[E])}
}

// On registers the fold for eventType, replacing any earlier one.
func (p *TypeSwitchProjector[E]) On(eventType automate.EventType, fold ProjectorFunc[E]) *TypeSwitchProjector[E] {
	p.folds[eventType] = fold

	return p
}

func (p *TypeSwitchProjector[E]) Evolve(event message.Event, prior E, hasPrior bool) (E, error) {
	fold, ok := p.folds[event.EventType()]
	if !ok {
		var zero E

		return zero, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.EventType())
	}

	return fold(event, prior, hasPrior)
}

// CheckCoverage verifies that every event type a can produce has a fold, so
// a gap is found at startup rather than on the first replay.
func (p *TypeSwitchProjector[E]) CheckCoverage(a *automate.Automate) error {
	var missing []string

	for _, t := range a.ResultTypes() {
		if _, ok := p.folds[t]; !ok {
			missing = append(missing, string(t))
		}
	}

	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)

	return fmt.Errorf("%w: %s is missing %v", ErrIncompleteProjector, a, missing)
}
