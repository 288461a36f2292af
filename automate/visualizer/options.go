package visualizer

// Options configures the visualization output.
type Options struct {
	// ShowRoles appends the issuing role to every transition label.
	ShowRoles bool

	// ShowEvents appends the resulting event type to every transition label.
	ShowEvents bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right).
	Direction string

	// Highlight marks states, typically the current state of an entity.
	Highlight []string
}

// DefaultOptions returns sensible defaults for visualization.
func DefaultOptions() Options {
	return Options{
		ShowRoles:  true,
		ShowEvents: false,
		Direction:  "TD",
	}
}

// WithShowRoles enables/disables role labels.
func (o Options) WithShowRoles(show bool) Options {
	o.ShowRoles = show

	return o
}

// WithShowEvents enables/disables event labels.
func (o Options) WithShowEvents(show bool) Options {
	o.ShowEvents = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlight sets the states to highlight.
func (o Options) WithHighlight(states ...string) Options {
	o.Highlight = states

	return o
}
