package guard

import (
	"context"
	"fmt"

	"github.com/amp-labs/amp-fsm/automate"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/utils"
)

// TransitionStateName is the name the built-in state guard reports under.
const TransitionStateName = "transition-state"

// TransitionStateGuard enforces the Automate's table. It is always the first
// guard of a Pipeline.
//
// Before business logic it checks that the command maps to a transition from
// the entity's current state (or to an init transition). After business
// logic it checks that the produced event and snapshot agree with that
// transition.
type TransitionStateGuard struct{}

func (TransitionStateGuard) Name() string { return TransitionStateName }

func (TransitionStateGuard) EvaluateInit(_ context.Context, gc *Context) Result {
	cmdType := gc.Command.CommandType()

	if _, ok := gc.Automate.InitTransition(cmdType); !ok {
		return Reject(&InvalidTransitionError{State: automate.NoState, CommandType: cmdType})
	}

	return Valid()
}

func (TransitionStateGuard) EvaluateTransition(_ context.Context, gc *Context) Result {
	if utils.IsNilish(gc.Entity) {
		return Reject(NewError(TransitionStateName, CodeMissingEntity, "no entity loaded", nil))
	}

	state := gc.Entity.CurrentState()
	cmdType := gc.Command.CommandType()

	if !gc.Automate.IsAvailableTransition(state, cmdType) {
		return Reject(&InvalidTransitionError{State: state, CommandType: cmdType})
	}

	return Valid()
}

func (TransitionStateGuard) VerifyInit(_ context.Context, gc *Context) Result {
	t, ok := gc.Automate.InitTransition(gc.Command.CommandType())
	if !ok {
		return Reject(&InvalidTransitionError{State: automate.NoState, CommandType: gc.Command.CommandType()})
	}

	return verifyOutcome(gc, t, "")
}

func (TransitionStateGuard) VerifyTransition(_ context.Context, gc *Context) Result {
	if utils.IsNilish(gc.Entity) {
		return Reject(NewError(TransitionStateName, CodeMissingEntity, "no entity loaded", nil))
	}

	t, ok := gc.Automate.Lookup(gc.Entity.CurrentState(), gc.Command.CommandType())
	if !ok {
		return Reject(&InvalidTransitionError{State: gc.Entity.CurrentState(), CommandType: gc.Command.CommandType()})
	}

	return verifyOutcome(gc, t, gc.Entity.EntityID())
}

// verifyOutcome checks the decided event and snapshot against t. An empty
// wantID means any non-empty id is acceptable.
func verifyOutcome(gc *Context, t automate.Transition, wantID string) Result {
	if utils.IsNilish(gc.Event) {
		return Reject(NewError(TransitionStateName, CodeMissingEvent, "business logic returned no event", nil))
	}

	if utils.IsNilish(gc.NewEntity) {
		return Reject(NewError(TransitionStateName, CodeMissingEntity, "business logic returned no entity", nil))
	}

	var errs []error

	if got := gc.Event.EventType(); got != t.Result {
		errs = append(errs, mismatch(CodeEventType, "event type", t.Result, got))
	}

	if got := gc.Event.NewState(); got != t.To {
		errs = append(errs, mismatch(CodeEventState, "event state", t.To, got))
	}

	if got := gc.NewEntity.CurrentState(); got != gc.Event.NewState() {
		errs = append(errs, mismatch(CodeEntityState, "entity state", gc.Event.NewState(), got))
	}

	switch {
	case gc.NewEntity.EntityID() == "":
		errs = append(errs, NewError(TransitionStateName, CodeEntityID, "entity has no id", nil))
	case gc.Event.EntityID() != gc.NewEntity.EntityID():
		errs = append(errs, mismatch(CodeEntityID, "event entity id", gc.NewEntity.EntityID(), gc.Event.EntityID()))
	case wantID != "" && gc.NewEntity.EntityID() != wantID:
		errs = append(errs, mismatch(CodeEntityID, "entity id", wantID, gc.NewEntity.EntityID()))
	}

	return Reject(errs...)
}

func mismatch[T ~string](code, what string, want, got T) error {
	return NewError(TransitionStateName, code,
		fmt.Sprintf("%s is %q, transition expects %q", what, got, want),
		map[string]any{"expected": string(want), "actual": string(got)})
}

// RoleFunc extracts the role a command was issued under.
type RoleFunc func(ctx context.Context, cmd message.Command) (automate.Role, bool)

// RoleGuard rejects commands whose issuer role differs from the role the
// Automate records for the resolved transition. The core never enforces
// roles on its own; register this guard to do so.
type RoleGuard struct {
	Accept

	roleOf RoleFunc
}

// RequireRole builds a RoleGuard.
func RequireRole(roleOf RoleFunc) *RoleGuard {
	return &RoleGuard{roleOf: roleOf}
}

func (g *RoleGuard) Name() string { return "role" }

func (g *RoleGuard) EvaluateInit(ctx context.Context, gc *Context) Result {
	return g.check(ctx, gc)
}

func (g *RoleGuard) EvaluateTransition(ctx context.Context, gc *Context) Result {
	return g.check(ctx, gc)
}

func (g *RoleGuard) check(ctx context.Context, gc *Context) Result {
	t, ok := gc.Transition()
	if !ok {
		// The state guard reports this.
		return Valid()
	}

	role, ok := g.roleOf(ctx, gc.Command)
	if !ok || role != t.Role {
		return Reject(NewError(g.Name(), CodeRoleDenied,
			fmt.Sprintf("%s requires role %s", t.Trigger, t.Role),
			map[string]any{"required": string(t.Role), "actual": string(role)}))
	}

	return Valid()
}
