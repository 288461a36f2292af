// Package automate holds the immutable definition of a state machine: the
// table of transitions that says which command may move an entity from one
// state to another, which role issues it and which event it produces.
//
// An Automate is built once, usually at startup, and then shared read-only by
// every concurrent execution.
package automate

import "fmt"

// State identifies one state of a lifecycle.
type State string

// Role identifies who may issue a command. The definition only records it;
// enforcement belongs to a guard.
type Role string

// CommandType names a kind of command.
type CommandType string

// EventType names a kind of event.
type EventType string

// NoState is the "from" state of init transitions.
const NoState State = ""

// Transition is one legal move of the machine.
type Transition struct {
	From    State
	To      State
	Role    Role
	Trigger CommandType
	Result  EventType
}

// IsInit reports whether the transition creates an entity.
func (t Transition) IsInit() bool {
	return t.From == NoState
}

func (t Transition) String() string {
	from := string(t.From)
	if t.IsInit() {
		from = "[init]"
	}

	return fmt.Sprintf("%s --%s(%s)--> %s => %s", from, t.Trigger, t.Role, t.To, t.Result)
}

type transitionKey struct {
	from    State
	trigger CommandType
}
