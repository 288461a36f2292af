// Package guard implements the precondition pipeline that runs before
// business logic, and the verification pass that runs after it.
//
// Every guard in a Pipeline is evaluated, in registration order, even after
// one of them has rejected the command, so the caller sees every reason a
// command was refused in a single ValidationError.
package guard

import (
	"context"

	"github.com/amp-labs/amp-fsm/automate"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/utils"
)

// Context is what a guard gets to look at.
type Context struct {
	// Command under evaluation.
	Command message.Command

	// Entity is the loaded snapshot. Nil for init commands.
	Entity message.Entity

	// Automate the command is evaluated against.
	Automate *automate.Automate

	// NewEntity and Event are the business logic's output. They are only
	// set in the Verify phases.
	NewEntity message.Entity
	Event     message.Event
}

// Transition returns the transition the command resolves to, if any.
func (c *Context) Transition() (automate.Transition, bool) {
	if c.Automate == nil || c.Command == nil {
		return automate.Transition{}, false
	}

	if utils.IsNilish(c.Entity) {
		return c.Automate.InitTransition(c.Command.CommandType())
	}

	return c.Automate.Lookup(c.Entity.CurrentState(), c.Command.CommandType())
}

// EntityID returns the id the command addresses, falling back to the new
// entity for init commands that have been decided.
func (c *Context) EntityID() string {
	switch {
	case !utils.IsNilish(c.Entity):
		return c.Entity.EntityID()
	case !utils.IsNilish(c.NewEntity):
		return c.NewEntity.EntityID()
	default:
		id, _ := message.TargetID(c.Command)

		return id
	}
}

// Result is the outcome of one guard, or of a whole pipeline.
type Result struct {
	Errors []error
}

// Valid returns an accepting result.
func Valid() Result {
	return Result{}
}

// Reject returns a result carrying errs. Nil errors are dropped.
func Reject(errs ...error) Result {
	var out []error

	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}

	return Result{Errors: out}
}

// IsValid reports whether no errors were collected.
func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Guard checks a command before (Evaluate*) and after (Verify*) business
// logic runs. Embed Accept to implement only the phases you need.
type Guard interface {
	Name() string
	EvaluateInit(ctx context.Context, gc *Context) Result
	EvaluateTransition(ctx context.Context, gc *Context) Result
	VerifyInit(ctx context.Context, gc *Context) Result
	VerifyTransition(ctx context.Context, gc *Context) Result
}

// Accept accepts everything. Embedding types supply Name and override the
// phases they care about.
type Accept struct{}

func (Accept) EvaluateInit(context.Context, *Context) Result       { return Valid() }
func (Accept) EvaluateTransition(context.Context, *Context) Result { return Valid() }
func (Accept) VerifyInit(context.Context, *Context) Result         { return Valid() }
func (Accept) VerifyTransition(context.Context, *Context) Result   { return Valid() }

// CheckFunc is a single-phase guard check. A nil error accepts.
type CheckFunc func(ctx context.Context, gc *Context) error

type funcGuard struct {
	Accept

	name  string
	phase Phase
	fn    CheckFunc
}

func (g *funcGuard) Name() string { return g.name }

func (g *funcGuard) run(ctx context.Context, gc *Context, phase Phase) Result {
	if phase != g.phase {
		return Valid()
	}

	return Reject(g.fn(ctx, gc))
}

func (g *funcGuard) EvaluateInit(ctx context.Context, gc *Context) Result {
	return g.run(ctx, gc, PhaseEvaluateInit)
}

func (g *funcGuard) EvaluateTransition(ctx context.Context, gc *Context) Result {
	return g.run(ctx, gc, PhaseEvaluateTransition)
}

func (g *funcGuard) VerifyInit(ctx context.Context, gc *Context) Result {
	return g.run(ctx, gc, PhaseVerifyInit)
}

func (g *funcGuard) VerifyTransition(ctx context.Context, gc *Context) Result {
	return g.run(ctx, gc, PhaseVerifyTransition)
}

// PreInit builds a guard that only checks init commands before business logic.
func PreInit(name string, fn CheckFunc) Guard {
	return &funcGuard{name: name, phase: PhaseEvaluateInit, fn: fn}
}

// PreTransition builds a guard that only checks transition commands before
// business logic.
func PreTransition(name string, fn CheckFunc) Guard {
	return &funcGuard{name: name, phase: PhaseEvaluateTransition, fn: fn}
}

// PostInit builds a guard that only verifies the result of init commands.
func PostInit(name string, fn CheckFunc) Guard {
	return &funcGuard{name: name, phase: PhaseVerifyInit, fn: fn}
}

// PostTransition builds a guard that only verifies the result of transition
// commands.
func PostTransition(name string, fn CheckFunc) Guard {
	return &funcGuard{name: name, phase: PhaseVerifyTransition, fn: fn}
}
