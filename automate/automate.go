package automate

import (
	"fmt"
	"slices"
)

// Automate is an immutable transition table. The zero value is not usable;
// build one with New or a Builder.
type Automate struct {
	name        string
	version     string
	transitions []Transition
	index       map[transitionKey]Transition
	states      []State
	outgoing    map[State][]Transition
}

// New validates the transitions and builds an Automate. Two transitions
// sharing the same (from, trigger) pair are rejected with
// ErrDuplicateTransition; there is no precedence rule.
func New(name string, transitions ...Transition) (*Automate, error) {
	return build(name, "", transitions)
}

// MustNew is like New but panics on an invalid definition. It is meant for
// package-level definitions that are fixed at compile time.
func MustNew(name string, transitions ...Transition) *Automate {
	a, err := New(name, transitions...)
	if err != nil {
		panic(err)
	}

	return a
}

func build(name, version string, transitions []Transition) (*Automate, error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	if len(transitions) == 0 {
		return nil, fmt.Errorf("automate %s: %w", name, ErrNoTransitions)
	}

	a := &Automate{
		name:        name,
		version:     version,
		transitions: slices.Clone(transitions),
		index:       make(map[transitionKey]Transition, len(transitions)),
		outgoing:    make(map[State][]Transition),
	}

	seen := make(map[State]bool)
	addState := func(s State) {
		if s != NoState && !seen[s] {
			seen[s] = true
			a.states = append(a.states, s)
		}
	}

	hasInit := false

	for i, t := range a.transitions {
		if err := validateTransition(t); err != nil {
			return nil, &DefinitionError{Automate: name, Index: i, Transition: t, Err: err}
		}

		key := transitionKey{from: t.From, trigger: t.Trigger}
		if prior, dup := a.index[key]; dup {
			return nil, &DefinitionError{
				Automate:   name,
				Index:      i,
				Transition: t,
				Err:        fmt.Errorf("%w: already mapped to %s", ErrDuplicateTransition, prior),
			}
		}

		a.index[key] = t
		a.outgoing[t.From] = append(a.outgoing[t.From], t)

		addState(t.From)
		addState(t.To)

		hasInit = hasInit || t.IsInit()
	}

	if !hasInit {
		return nil, fmt.Errorf("automate %s: %w", name, ErrNoInitTransition)
	}

	return a, nil
}

func validateTransition(t Transition) error {
	switch {
	case t.To == NoState:
		return ErrTargetRequired
	case t.Trigger == "":
		return ErrTriggerRequired
	case t.Result == "":
		return ErrResultRequired
	case t.Role == "":
		return ErrRoleRequired
	default:
		return nil
	}
}

// Name returns the automate's name.
func (a *Automate) Name() string {
	return a.name
}

// Version returns the optional definition version.
func (a *Automate) Version() string {
	return a.version
}

// Lookup returns the transition registered for (state, trigger). Use NoState
// to look up init transitions.
func (a *Automate) Lookup(state State, trigger CommandType) (Transition, bool) {
	t, ok := a.index[transitionKey{from: state, trigger: trigger}]

	return t, ok
}

// IsAvailableTransition reports whether trigger is allowed from state.
func (a *Automate) IsAvailableTransition(state State, trigger CommandType) bool {
	_, ok := a.Lookup(state, trigger)

	return ok
}

// InitTransition returns the init transition triggered by the command type.
func (a *Automate) InitTransition(trigger CommandType) (Transition, bool) {
	return a.Lookup(NoState, trigger)
}

// Transitions returns every transition in registration order.
func (a *Automate) Transitions() []Transition {
	return slices.Clone(a.transitions)
}

// TransitionsFrom returns the transitions leaving state, in registration order.
func (a *Automate) TransitionsFrom(state State) []Transition {
	return slices.Clone(a.outgoing[state])
}

// InitTransitions returns the transitions that create entities.
func (a *Automate) InitTransitions() []Transition {
	return a.TransitionsFrom(NoState)
}

// AllowedCommands returns the triggers accepted in state.
func (a *Automate) AllowedCommands(state State) []CommandType {
	out := make([]CommandType, 0, len(a.outgoing[state]))
	for _, t := range a.outgoing[state] {
		out = append(out, t.Trigger)
	}

	return out
}

// States returns every state named by the table, in first-seen order.
func (a *Automate) States() []State {
	return slices.Clone(a.states)
}

// IsTerminal reports whether no transition leaves state. Reaching a terminal
// state ends an entity's lifecycle.
func (a *Automate) IsTerminal(state State) bool {
	return len(a.outgoing[state]) == 0
}

// ResultTypes returns the distinct event types the table can produce.
func (a *Automate) ResultTypes() []EventType {
	seen := make(map[EventType]bool)

	var out []EventType

	for _, t := range a.transitions {
		if !seen[t.Result] {
			seen[t.Result] = true
			out = append(out, t.Result)
		}
	}

	return out
}

func (a *Automate) String() string {
	if a.version == "" {
		return a.name
	}

	return a.name + "@" + a.version
}
