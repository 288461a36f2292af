package guard

import (
	"context"
	"runtime/debug"

	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/utils"
)

// Phase names one of the four points at which guards run.
type Phase string

const (
	PhaseEvaluateInit       Phase = "evaluate_init"
	PhaseEvaluateTransition Phase = "evaluate_transition"
	PhaseVerifyInit         Phase = "verify_init"
	PhaseVerifyTransition   Phase = "verify_transition"
)

// Pipeline runs an ordered list of guards. The TransitionStateGuard always
// runs first; the rest run in the order they were registered. No guard is
// skipped because an earlier one rejected.
type Pipeline struct {
	guards []Guard
}

// NewPipeline builds a pipeline of the built-in state guard followed by
// guards. Nil guards are ignored.
func NewPipeline(guards ...Guard) *Pipeline {
	all := make([]Guard, 0, len(guards)+1)
	all = append(all, TransitionStateGuard{})

	for _, g := range guards {
		if !utils.IsNilish(g) {
			all = append(all, g)
		}
	}

	return &Pipeline{guards: all}
}

// Guards returns the guards in evaluation order.
func (p *Pipeline) Guards() []Guard {
	out := make([]Guard, len(p.guards))
	copy(out, p.guards)

	return out
}

// EvaluateInit runs every guard's EvaluateInit.
func (p *Pipeline) EvaluateInit(ctx context.Context, gc *Context) Result {
	return p.run(ctx, gc, PhaseEvaluateInit)
}

// EvaluateTransition runs every guard's EvaluateTransition.
func (p *Pipeline) EvaluateTransition(ctx context.Context, gc *Context) Result {
	return p.run(ctx, gc, PhaseEvaluateTransition)
}

// VerifyInit runs every guard's VerifyInit.
func (p *Pipeline) VerifyInit(ctx context.Context, gc *Context) Result {
	return p.run(ctx, gc, PhaseVerifyInit)
}

// VerifyTransition runs every guard's VerifyTransition.
func (p *Pipeline) VerifyTransition(ctx context.Context, gc *Context) Result {
	return p.run(ctx, gc, PhaseVerifyTransition)
}

func (p *Pipeline) run(ctx context.Context, gc *Context, phase Phase) Result {
	var errs errors.Collection

	automateName := "unknown"
	if gc.Automate != nil {
		automateName = gc.Automate.Name()
	}

	for _, g := range p.guards {
		res := invoke(ctx, g, gc, phase)
		if !res.IsValid() {
			guardRejections.WithLabelValues(automateName, g.Name(), string(phase)).Inc()
		}

		errs.AddAll(res.Errors...)
	}

	return Result{Errors: errs.Errors()}
}

// invoke calls one phase of g, turning a panic into a rejection from that
// guard.
func invoke(ctx context.Context, g Guard, gc *Context, phase Phase) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			name := g.Name()
			stack := debug.Stack()
			guardPanics.WithLabelValues(name, string(phase)).Inc()

			logger.Get(ctx).Error("guard recovered from panic",
				"guard", name,
				"phase", string(phase),
				"error", r,
				"stack", string(stack))

			res = Reject(&StructuredError{
				Guard:   name,
				Code:    CodePanic,
				Message: "guard panicked",
				Err:     utils.NewPanicError("guard "+name, r, stack),
			})
		}
	}()

	switch phase {
	case PhaseEvaluateInit:
		return g.EvaluateInit(ctx, gc)
	case PhaseEvaluateTransition:
		return g.EvaluateTransition(ctx, gc)
	case PhaseVerifyInit:
		return g.VerifyInit(ctx, gc)
	case PhaseVerifyTransition:
		return g.VerifyTransition(ctx, gc)
	default:
		return Valid()
	}
}
