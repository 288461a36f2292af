// Package visualizer renders an Automate as a Mermaid state diagram.
package visualizer

import (
	"errors"
	"fmt"
	"strings"

	"facette.io/natsort"
	"github.com/amp-labs/amp-fsm/automate"
)

// ErrAutomateNil is returned when no automate is given.
var ErrAutomateNil = errors.New("automate cannot be nil")

// GenerateMermaid renders a with the default options.
func GenerateMermaid(a *automate.Automate) (string, error) {
	return GenerateMermaidWithOptions(a, DefaultOptions())
}

// GenerateMermaidWithOptions renders a Mermaid diagram. States are emitted in
// natural sort order so the output is stable across definition edits that
// only reorder transitions.
func GenerateMermaidWithOptions(a *automate.Automate, opts Options) (string, error) {
	if a == nil {
		return "", ErrAutomateNil
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	fmt.Fprintf(&sb, "stateDiagram-%s\n", direction)
	fmt.Fprintf(&sb, "    %%%% %s\n", a)

	for _, t := range a.InitTransitions() {
		fmt.Fprintf(&sb, "    [*] --> %s%s\n", t.To, label(t, opts))
	}

	names := make([]string, 0, len(a.States()))
	for _, s := range a.States() {
		names = append(names, string(s))
	}

	natsort.Sort(names)

	highlight := make(map[string]bool, len(opts.Highlight))
	for _, s := range opts.Highlight {
		highlight[s] = true
	}

	for _, name := range names {
		state := automate.State(name)

		for _, t := range a.TransitionsFrom(state) {
			fmt.Fprintf(&sb, "    %s --> %s%s\n", state, t.To, label(t, opts))
		}

		switch {
		case highlight[name]:
			fmt.Fprintf(&sb, "    class %s highlighted\n", name)
		case a.IsTerminal(state):
			fmt.Fprintf(&sb, "    %s --> [*]\n", name)
			fmt.Fprintf(&sb, "    class %s terminalState\n", name)
		}
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef terminalState fill:#c8e6c9,stroke:#2e7d32,stroke-width:2px\n")
	sb.WriteString("    classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px\n")
	sb.WriteString("```\n")

	return sb.String(), nil
}

func label(t automate.Transition, opts Options) string {
	parts := []string{string(t.Trigger)}

	if opts.ShowRoles {
		parts[0] += " (" + string(t.Role) + ")"
	}

	if opts.ShowEvents {
		parts = append(parts, "/ "+string(t.Result))
	}

	return ": " + strings.Join(parts, " ")
}
