package automate

import (
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the data form of an Automate, as found in YAML or JSON files:
//
//	name: order
//	version: "1"
//	transitions:
//	  - trigger: PlaceOrder
//	    role: Customer
//	    to: Placed
//	    result: OrderPlaced
//	  - from: Placed
//	    trigger: ShipOrder
//	    role: Admin
//	    to: Shipped
//	    result: OrderShipped
type Definition struct {
	Name        string                 `json:"name"        yaml:"name"`
	Version     string                 `json:"version"     yaml:"version"`
	Transitions []TransitionDefinition `json:"transitions" yaml:"transitions"`
}

// TransitionDefinition is one row of a Definition. An empty From marks an
// init transition.
type TransitionDefinition struct {
	From    string `json:"from,omitempty" yaml:"from,omitempty"`
	Trigger string `json:"trigger"        yaml:"trigger"`
	Role    string `json:"role"           yaml:"role"`
	To      string `json:"to"             yaml:"to"`
	Result  string `json:"result"         yaml:"result"`
}

// Build converts the definition into a validated Automate.
func (d *Definition) Build() (*Automate, error) {
	transitions := make([]Transition, 0, len(d.Transitions))

	for _, td := range d.Transitions {
		transitions = append(transitions, Transition{
			From:    State(td.From),
			To:      State(td.To),
			Role:    Role(td.Role),
			Trigger: CommandType(td.Trigger),
			Result:  EventType(td.Result),
		})
	}

	return build(d.Name, d.Version, transitions)
}

// Definition returns the data form of a, suitable for marshaling.
func (a *Automate) Definition() *Definition {
	d := &Definition{
		Name:        a.name,
		Version:     a.version,
		Transitions: make([]TransitionDefinition, 0, len(a.transitions)),
	}

	for _, t := range a.transitions {
		d.Transitions = append(d.Transitions, TransitionDefinition{
			From:    string(t.From),
			Trigger: string(t.Trigger),
			Role:    string(t.Role),
			To:      string(t.To),
			Result:  string(t.Result),
		})
	}

	return d
}

// LoadDefinitionFromBytes parses a YAML (or JSON, which is valid YAML) definition.
func LoadDefinitionFromBytes(data []byte) (*Definition, error) {
	var def Definition

	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &def, nil
}

// LoadDefinition reads a definition from a file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %q: %w", path, err)
	}

	return LoadDefinitionFromBytes(data)
}

// LoadDefinitionFromFS reads a definition from an embedded filesystem.
func LoadDefinitionFromFS(fsys fs.FS, path string) (*Definition, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition from FS: %w", err)
	}

	return LoadDefinitionFromBytes(data)
}

// Load reads a definition file and builds the Automate in one step.
func Load(path string) (*Automate, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}

	return def.Build()
}
