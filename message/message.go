// Package message defines the primitives the engine consumes and produces:
// commands that request a change, events that record one, and the entity
// snapshot that business logic reads and returns.
package message

import "github.com/amp-labs/amp-fsm/automate"

// Command is a request to change an entity. Its CommandType is matched
// against the Automate's triggers.
type Command interface {
	CommandType() automate.CommandType
}

// InitCommand creates a new entity. There is no prior state.
//
// Implementations embed Init to satisfy the marker method.
type InitCommand interface {
	Command
	initCommand()
}

// TransitionCommand targets an existing entity.
type TransitionCommand interface {
	Command
	EntityID() string
}

// Init marks a command as an InitCommand when embedded.
type Init struct{}

func (Init) initCommand() {}

// Event records a state change that has happened. Events are immutable.
type Event interface {
	EventType() automate.EventType
	EntityID() string
	NewState() automate.State
}

// Entity is the current snapshot of a domain object. Business logic never
// mutates a snapshot in place; it returns a new value.
type Entity interface {
	EntityID() string
	CurrentState() automate.State
}

// IsInit reports whether cmd is an InitCommand.
func IsInit(cmd Command) bool {
	_, ok := cmd.(InitCommand)

	return ok
}

// TargetID returns the id a command addresses. Init commands have none.
func TargetID(cmd Command) (string, bool) {
	tc, ok := cmd.(TransitionCommand)
	if !ok {
		return "", false
	}

	return tc.EntityID(), true
}
