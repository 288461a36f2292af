package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/guard"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/utils"
	"go.opentelemetry.io/otel/trace"
)

// Outcome labels used in metrics, spans and logs.
const (
	outcomeOK           = "ok"
	outcomeRejected     = "rejected"
	outcomeNotFound     = "not_found"
	outcomeConflict     = "conflict"
	outcomeInconsistent = "inconsistent"
	outcomePersistence  = "persistence"
	outcomeProjection   = "projection"
	outcomeCanceled     = "canceled"
	outcomeBusiness     = "business_error"
)

func (e *Engine[E]) create(ctx context.Context, cmd message.Command, decide DecideFunc[E]) Result {
	started := time.Now()

	cmdType := commandType(cmd)
	ctx = logger.With(ctx, "engine", e.name, "command_type", cmdType)

	ctx, span := startCommandSpan(ctx, "fsm.create", e.name, cmdType, "")

	res := e.doCreate(ctx, cmd, decide)

	e.finish(ctx, kindCreate, started, span, res)

	return res
}

func (e *Engine[E]) doCreate(ctx context.Context, cmd message.Command, decide DecideFunc[E]) Result {
	res := Result{Command: cmd}

	initCmd, ok := cmd.(message.InitCommand)
	if !ok {
		res.Err = unexpected(cmd, "init")

		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = err

		return res
	}

	gc := &guard.Context{Command: cmd, Automate: e.automate}

	if verdict := e.pipeline.EvaluateInit(ctx, gc); !verdict.IsValid() {
		res.Err = &fsmerrors.ValidationError{Errors: verdict.Errors}

		return res
	}

	entity, event, err := e.callDecide(ctx, decide, initCmd)
	if err != nil {
		res.Err = err

		return res
	}

	gc.NewEntity, gc.Event = entity, event

	if verdict := e.pipeline.VerifyInit(ctx, gc); !verdict.IsValid() {
		res.EntityID = gc.EntityID()
		res.Err = &fsmerrors.InconsistentResultError{ID: res.EntityID, Errors: verdict.Errors}

		return res
	}

	res.EntityID = entity.EntityID()

	if err := ctx.Err(); err != nil {
		res.Err = err

		return res
	}

	stored, err := e.adapter.PersistInit(context.WithoutCancel(ctx), entity, event)
	if err != nil {
		res.Err = err

		return res
	}

	res.Event = stored

	return res
}

func (e *Engine[E]) transition(ctx context.Context, cmd message.Command, exec ExecFunc[E]) Result {
	started := time.Now()

	cmdType := commandType(cmd)
	id, _ := message.TargetID(cmd)
	ctx = logger.With(ctx, "engine", e.name, "command_type", cmdType, "entity_id", id)

	ctx, span := startCommandSpan(ctx, "fsm.transition", e.name, cmdType, id)

	res := e.doTransition(ctx, cmd, exec)

	e.finish(ctx, kindTransition, started, span, res)

	return res
}

func (e *Engine[E]) doTransition(ctx context.Context, cmd message.Command, exec ExecFunc[E]) Result {
	res := Result{Command: cmd}

	tc, ok := cmd.(message.TransitionCommand)
	if !ok || message.IsInit(cmd) {
		res.Err = unexpected(cmd, "transition")

		return res
	}

	id := tc.EntityID()
	res.EntityID = id

	if err := ctx.Err(); err != nil {
		res.Err = err

		return res
	}

	entity, version, found, err := e.adapter.Load(ctx, id)
	if err != nil {
		res.Err = err

		return res
	}

	if !found {
		res.Err = &fsmerrors.NotFoundError{ID: id}

		return res
	}

	gc := &guard.Context{Command: cmd, Entity: entity, Automate: e.automate}

	if verdict := e.pipeline.EvaluateTransition(ctx, gc); !verdict.IsValid() {
		res.Err = &fsmerrors.ValidationError{Errors: verdict.Errors}

		return res
	}

	next, event, err := e.callExec(ctx, exec, tc, entity)
	if err != nil {
		res.Err = err

		return res
	}

	gc.NewEntity, gc.Event = next, event

	if verdict := e.pipeline.VerifyTransition(ctx, gc); !verdict.IsValid() {
		res.Err = &fsmerrors.InconsistentResultError{ID: id, Errors: verdict.Errors}

		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = err

		return res
	}

	stored, err := e.adapter.Persist(context.WithoutCancel(ctx), next, event, version)
	if err != nil {
		res.Err = err

		return res
	}

	res.Event = stored

	return res
}

// callDecide runs business logic, reporting a panic as an error for this
// command only.
func (e *Engine[E]) callDecide(ctx context.Context, decide DecideFunc[E], cmd message.InitCommand) (entity E, event message.Event, err error) {
	defer e.recoverBusiness(ctx, kindCreate, &err)

	return decide(ctx, cmd)
}

func (e *Engine[E]) callExec(
	ctx context.Context,
	exec ExecFunc[E],
	cmd message.TransitionCommand,
	entity E,
) (next E, event message.Event, err error) {
	defer e.recoverBusiness(ctx, kindTransition, &err)

	return exec(ctx, cmd, entity)
}

func (e *Engine[E]) recoverBusiness(ctx context.Context, kind string, err *error) {
	r := recover()
	if r == nil {
		return
	}

	stack := debug.Stack()
	businessPanics.WithLabelValues(e.name, kind).Inc()

	logger.Get(ctx).Error("business logic panicked",
		"kind", kind,
		"error", r,
		"stack", string(stack))

	*err = utils.NewPanicError(kind+" business logic", r, stack)
}

// finish records metrics, closes the span and logs the result.
func (e *Engine[E]) finish(ctx context.Context, kind string, started time.Time, span trace.Span, res Result) {
	outcome := classify(res.Err)

	commandsTotal.WithLabelValues(e.name, kind, outcome).Inc()
	commandDuration.WithLabelValues(e.name, kind, outcome).Observe(time.Since(started).Seconds())

	endCommandSpan(span, res, outcome)

	log := logger.Get(ctx)

	switch outcome {
	case outcomeOK:
		if res.Event == nil {
			log.Warn("adapter acknowledged without an event", "entity_id", res.EntityID)

			break
		}

		log.Debug("command applied",
			"entity_id", res.EntityID,
			"event_type", string(res.Event.EventType()),
			"new_state", string(res.Event.NewState()))
	case outcomeProjection:
		logger.Get(logger.WithAlert(ctx)).Error("entity cannot be replayed", "error", res.Err)
	case outcomeInconsistent, outcomePersistence:
		log.Error("command failed", "outcome", outcome, "error", res.Err)
	default:
		log.Info("command not applied", "outcome", outcome, "error", res.Err)
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, fsmerrors.ErrValidation), errors.Is(err, ErrUnexpectedCommand),
		errors.Is(err, ErrNilCommand):
		return outcomeRejected
	case errors.Is(err, fsmerrors.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, fsmerrors.ErrConflict):
		return outcomeConflict
	case errors.Is(err, fsmerrors.ErrInconsistentResult):
		return outcomeInconsistent
	case errors.Is(err, fsmerrors.ErrProjection):
		return outcomeProjection
	case errors.Is(err, fsmerrors.ErrPersistence):
		return outcomePersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeBusiness
	}
}

func unexpected(cmd message.Command, want string) error {
	if cmd == nil {
		return ErrNilCommand
	}

	return &fsmerrors.ValidationError{Errors: []error{
		fmt.Errorf("%w: %s is not a %s command", ErrUnexpectedCommand, cmd.CommandType(), want),
	}}
}

func commandType(cmd message.Command) string {
	if cmd == nil {
		return ""
	}

	return string(cmd.CommandType())
}
