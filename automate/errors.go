package automate

import (
	"errors"
	"fmt"
)

var (
	ErrNameRequired        = errors.New("automate name is required")
	ErrNoTransitions       = errors.New("at least one transition is required")
	ErrNoInitTransition    = errors.New("at least one init transition is required")
	ErrTargetRequired      = errors.New("transition target state is required")
	ErrTriggerRequired     = errors.New("transition trigger is required")
	ErrResultRequired      = errors.New("transition result is required")
	ErrRoleRequired        = errors.New("transition role is required")
	ErrDuplicateTransition = errors.New("duplicate transition for state and trigger")
)

// DefinitionError reports an invalid transition at build time.
type DefinitionError struct {
	Automate   string
	Index      int
	Transition Transition
	Err        error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("automate %s: transition %d (%s): %v", e.Automate, e.Index, e.Transition, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}
