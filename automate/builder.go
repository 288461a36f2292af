package automate

// Builder provides a fluent API for constructing an Automate.
type Builder struct {
	name        string
	version     string
	transitions []Transition
}

// NewBuilder creates a new builder for the named automate.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// WithVersion sets the definition version.
func (b *Builder) WithVersion(version string) *Builder {
	b.version = version

	return b
}

// Init adds a transition that creates an entity in state to.
func (b *Builder) Init(trigger CommandType, role Role, to State, result EventType) *Builder {
	return b.Add(Transition{Trigger: trigger, Role: role, To: to, Result: result})
}

// Transition adds a transition from an existing state.
func (b *Builder) Transition(from State, trigger CommandType, role Role, to State, result EventType) *Builder {
	return b.Add(Transition{From: from, Trigger: trigger, Role: role, To: to, Result: result})
}

// Add appends a raw transition.
func (b *Builder) Add(t Transition) *Builder {
	b.transitions = append(b.transitions, t)

	return b
}

// Build validates the collected transitions and returns the Automate.
func (b *Builder) Build() (*Automate, error) {
	return build(b.name, b.version, b.transitions)
}
