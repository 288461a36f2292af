// Package errors holds the error taxonomy shared by the engine, the guard
// pipeline and the persistence adapters, plus a small collection type used to
// accumulate several errors before returning them together.
//
// Every typed error matches its sentinel through errors.Is, so callers can
// branch on the category without caring about the concrete type:
//
//	if errors.Is(err, fsmerrors.ErrNotFound) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("command rejected")
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("concurrent modification")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrProjection is matched by every *ProjectionError.
	ErrProjection = errors.New("projection failure")
	// ErrInconsistentResult is matched by every *InconsistentResultError.
	ErrInconsistentResult = errors.New("inconsistent transition result")
)

// ValidationError reports that one or more guards rejected a command.
// Errors holds every guard error, never just the first.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrValidation, joinMessages(e.Errors))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap exposes the individual guard errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// NotFoundError reports a transition command addressed to an id with no
// snapshot and no event history.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %q", ErrNotFound, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports an optimistic version mismatch detected by a store.
type ConflictError struct {
	ID       string
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v on %q: expected version %d, found %d", ErrConflict, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// PersistenceError reports a storage failure while loading or committing.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Op, e.Err)
	}

	return fmt.Sprintf("%v: %s %q: %v", ErrPersistence, e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ProjectionError reports that replay met an event the projector cannot fold.
// It signals a code or data defect. It is never retried and the entity's
// reads stop until the defect is fixed.
type ProjectionError struct {
	ID        string
	EventType string
	Version   uint64
	Err       error
}

func (e *ProjectionError) Error() string {
	msg := fmt.Sprintf("%v: entity %q cannot fold event %q at version %d", ErrProjection, e.ID, e.EventType, e.Version)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ProjectionError) Is(target error) bool {
	return target == ErrProjection
}

func (e *ProjectionError) Unwrap() error {
	return e.Err
}

// InconsistentResultError reports that a post-transition check rejected the
// snapshot or event produced by business logic. Nothing was persisted.
type InconsistentResultError struct {
	ID     string
	Errors []error
}

func (e *InconsistentResultError) Error() string {
	return fmt.Sprintf("%v for %q: %s", ErrInconsistentResult, e.ID, joinMessages(e.Errors))
}

func (e *InconsistentResultError) Is(target error) bool {
	return target == ErrInconsistentResult
}

func (e *InconsistentResultError) Unwrap() []error {
	return e.Errors
}

// NewPersistenceError wraps err unless it already belongs to the taxonomy.
// Conflicts and not-found results pass through unchanged.
func NewPersistenceError(op, id string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPersistence), errors.Is(err, ErrProjection):
		return err
	default:
		return &PersistenceError{Op: op, ID: id, Err: err}
	}
}

func joinMessages(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return strings.Join(msgs, "; ")
}

// Collection is a thread-unsafe utility for accumulating multiple errors.
// It provides methods to add errors, check for errors, and retrieve them as a single combined error.
// Use this when you need to collect errors from multiple operations and return them together.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are automatically ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// AddAll appends every non-nil error, keeping their order.
func (c *Collection) AddAll(errs ...error) {
	for _, err := range errs {
		c.Add(err)
	}
}

// Clear removes all errors from the collection, resetting it to an empty state.
func (c *Collection) Clear() {
	c.errors = nil
}

// HasError returns true if the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// Len returns the number of collected errors.
func (c *Collection) Len() int {
	return len(c.errors)
}

// Errors returns a copy of the collected errors in insertion order.
func (c *Collection) Errors() []error {
	if len(c.errors) == 0 {
		return nil
	}

	out := make([]error, len(c.errors))
	copy(out, c.errors)

	return out
}

// GetError returns the collected errors as a single error.
// Returns nil if the collection is empty, the single error if there's only one,
// or a joined error (using errors.Join) if there are multiple errors.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}
