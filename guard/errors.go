package guard

import (
	"errors"
	"fmt"

	"github.com/amp-labs/amp-fsm/automate"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrGuardPanic is matched by the error reported for a guard that panicked.
	ErrGuardPanic = errors.New("guard panicked")
)

// Codes used by the built-in guards.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeMissingEntity     = "missing_entity"
	CodeMissingEvent      = "missing_event"
	CodeEventType         = "event_type_mismatch"
	CodeEventState        = "event_state_mismatch"
	CodeEntityState       = "entity_state_mismatch"
	CodeEntityID          = "entity_id_mismatch"
	CodeRoleDenied        = "role_denied"
	CodePanic             = "panic"
)

// InvalidTransitionError reports a command that the Automate does not accept
// in the entity's current state. State is NoState for init commands.
type InvalidTransitionError struct {
	State       automate.State
	CommandType automate.CommandType
}

func (e *InvalidTransitionError) Error() string {
	if e.State == automate.NoState {
		return fmt.Sprintf("%v: %s cannot create an entity", ErrInvalidTransition, e.CommandType)
	}

	return fmt.Sprintf("%v: %s is not allowed in state %s", ErrInvalidTransition, e.CommandType, e.State)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StructuredError is a guard rejection with a machine-readable code and
// arbitrary detail fields.
type StructuredError struct {
	Guard   string
	Code    string
	Message string
	Fields  map[string]any
	Err     error
}

// NewError builds a StructuredError.
func NewError(guard, code, msg string, fields map[string]any) *StructuredError {
	return &StructuredError{Guard: guard, Code: code, Message: msg, Fields: fields}
}

func (e *StructuredError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Guard, e.Code, e.Message)
}

// Is matches ErrGuardPanic for the rejection reported for a panicking guard.
func (e *StructuredError) Is(target error) bool {
	return target == ErrGuardPanic && e.Code == CodePanic
}

func (e *StructuredError) Unwrap() error {
	return e.Err
}
