// Package engine executes commands against an Automate.
//
// Every command goes through the same steps: load the entity (transition
// commands only), run the guard pipeline, call business logic, verify its
// result, persist, and emit the event. Each step can fail on its own; a
// failing command yields an error Result and never stops the stream.
//
// Transition commands for the same entity id are processed one at a time in
// submission order. Commands for different ids run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/automate"
	"github.com/amp-labs/amp-fsm/config"
	"github.com/amp-labs/amp-fsm/guard"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/persistence"
	"go.uber.org/atomic"
)

var (
	// ErrEngineClosed is returned for commands submitted after Close.
	ErrEngineClosed = errors.New("engine is closed")
	// ErrNilAutomate is returned by New without an automate.
	ErrNilAutomate = errors.New("automate is required")
	// ErrNilAdapter is returned by New without a persistence adapter.
	ErrNilAdapter = errors.New("persistence adapter is required")
	// ErrUnexpectedCommand reports an init command on a transition stream,
	// or the reverse.
	ErrUnexpectedCommand = errors.New("unexpected command kind")
	// ErrNilCommand reports a nil value on a command stream.
	ErrNilCommand = errors.New("nil command")
)

// DecideFunc is the business logic of an init command. It returns the new
// entity and the event describing its creation.
type DecideFunc[E message.Entity] func(ctx context.Context, cmd message.InitCommand) (E, message.Event, error)

// ExecFunc is the business logic of a transition command. It must not modify
// entity; it returns the next snapshot and the event describing the change.
type ExecFunc[E message.Entity] func(ctx context.Context, cmd message.TransitionCommand, entity E) (E, message.Event, error)

// Result is the outcome of one command. Exactly one of Event and Err is set.
type Result struct {
	Command  message.Command
	EntityID string
	Event    message.Event
	Err      error
}

// Engine runs commands for entities of type E.
type Engine[E message.Entity] struct {
	name     string
	automate *automate.Automate
	adapter  persistence.Adapter[E]
	pipeline *guard.Pipeline
	cfg      config.Engine

	router *router
	pool   pond.Pool

	// mutex orders submissions against Close: submitters hold it shared,
	// Close holds it exclusively while flipping closed.
	mutex    sync.RWMutex
	closed   bool
	done     chan struct{}
	streams  sync.WaitGroup
	once     sync.Once
	inflight atomic.Int64
}

// New builds an engine and starts its partitions. Call Close to stop them.
func New[E message.Entity](a *automate.Automate, adapter persistence.Adapter[E], opts ...Option) (*Engine[E], error) {
	if a == nil {
		return nil, ErrNilAutomate
	}

	if adapter == nil {
		return nil, ErrNilAdapter
	}

	o := options{cfg: config.DefaultEngine()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", a.Name(), err)
	}

	if o.name == "" {
		o.name = a.Name()
	}

	return &Engine[E]{
		name:     o.name,
		automate: a,
		adapter:  adapter,
		pipeline: guard.NewPipeline(o.guards...),
		cfg:      o.cfg,
		router:   newRouter(o.name, o.cfg.Partitions, o.cfg.MailboxDepth),
		pool:     pond.NewPool(o.cfg.CreateConcurrency),
		done:     make(chan struct{}),
	}, nil
}

// Name returns the engine's label.
func (e *Engine[E]) Name() string {
	return e.name
}

// Automate returns the definition the engine enforces.
func (e *Engine[E]) Automate() *automate.Automate {
	return e.automate
}

// Create processes a stream of init commands. The returned channel yields one
// Result per command read, in the order the commands were read, and closes
// once commands is closed (or ctx is done, or the engine is closed) and every
// command read has been processed. Callers must drain it.
func (e *Engine[E]) Create(ctx context.Context, commands <-chan message.Command, decide DecideFunc[E]) <-chan Result {
	return e.stream(ctx, commands, func(ctx context.Context, cmd message.Command) *job {
		return e.submitCreate(ctx, cmd, decide)
	})
}

// Transition processes a stream of transition commands with the same
// guarantees as Create. Commands addressing the same id are executed
// strictly in the order they were read.
//
// Init commands do not run on an id's partition, so a caller that creates an
// entity must wait for that create's Result before transitioning the same id.
// Until then the entity may not be found.
func (e *Engine[E]) Transition(ctx context.Context, commands <-chan message.Command, exec ExecFunc[E]) <-chan Result {
	return e.stream(ctx, commands, func(ctx context.Context, cmd message.Command) *job {
		return e.submitTransition(ctx, cmd, exec)
	})
}

// CreateOne processes a single init command and waits for it.
func (e *Engine[E]) CreateOne(ctx context.Context, cmd message.InitCommand, decide DecideFunc[E]) (message.Event, error) {
	res := <-e.submitCreate(ctx, cmd, decide).done

	return res.Event, res.Err
}

// TransitionOne processes a single transition command and waits for it. It
// is ordered with respect to every other command for the same id.
func (e *Engine[E]) TransitionOne(ctx context.Context, cmd message.TransitionCommand, exec ExecFunc[E]) (message.Event, error) {
	res := <-e.submitTransition(ctx, cmd, exec).done

	return res.Event, res.Err
}

// InFlight returns the number of commands submitted but not yet finished.
func (e *Engine[E]) InFlight() int64 {
	return e.inflight.Load()
}

// Close stops accepting commands, lets every command already read finish,
// then stops the partitions and the create pool. It is safe to call more
// than once.
func (e *Engine[E]) Close() {
	e.once.Do(func() {
		e.mutex.Lock()
		e.closed = true
		close(e.done)
		e.mutex.Unlock()

		e.streams.Wait()
		e.router.stop()
		e.pool.StopAndWait()
	})
}

// stream reads commands, hands each one to submit and forwards the results in
// read order.
func (e *Engine[E]) stream(
	ctx context.Context,
	commands <-chan message.Command,
	submit func(ctx context.Context, cmd message.Command) *job,
) <-chan Result {
	out := make(chan Result)

	e.mutex.RLock()

	if e.closed {
		e.mutex.RUnlock()
		close(out)

		return out
	}

	e.streams.Add(1)
	e.mutex.RUnlock()

	pending := make(chan *job, e.cfg.Partitions*(e.cfg.MailboxDepth+1))

	go func() {
		defer e.streams.Done()
		defer close(pending)

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case cmd, ok := <-commands:
				if !ok {
					return
				}

				pending <- submit(ctx, cmd)
			}
		}
	}()

	go func() {
		defer close(out)

		for j := range pending {
			out <- <-j.done
		}
	}()

	return out
}

func (e *Engine[E]) submitCreate(ctx context.Context, cmd message.Command, decide DecideFunc[E]) *job {
	j := e.newJob(ctx, cmd, func(ctx context.Context) Result {
		return e.create(ctx, cmd, decide)
	})

	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.closed {
		return e.reject(j, cmd, ErrEngineClosed)
	}

	if err := e.pool.Go(func() { runJob(j, e.name, "create pool") }); err != nil {
		return e.reject(j, cmd, fmt.Errorf("%w: %w", ErrEngineClosed, err))
	}

	return j
}

func (e *Engine[E]) submitTransition(ctx context.Context, cmd message.Command, exec ExecFunc[E]) *job {
	j := e.newJob(ctx, cmd, func(ctx context.Context) Result {
		return e.transition(ctx, cmd, exec)
	})

	id, ok := message.TargetID(cmd)
	if !ok {
		// Rejected without touching a partition.
		j.done <- j.run(ctx)

		return j
	}

	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.closed {
		return e.reject(j, cmd, ErrEngineClosed)
	}

	e.router.route(id).enqueue(j)

	return j
}

// newJob wraps run so the in-flight gauge covers it.
func (e *Engine[E]) newJob(ctx context.Context, cmd message.Command, run func(ctx context.Context) Result) *job {
	e.inflight.Inc()

	return newJob(ctx, func(ctx context.Context) Result {
		defer e.inflight.Dec()

		res := run(ctx)
		if res.Command == nil {
			res.Command = cmd
		}

		return res
	})
}

func (e *Engine[E]) reject(j *job, cmd message.Command, err error) *job {
	e.inflight.Dec()

	id, _ := message.TargetID(cmd)
	j.done <- Result{Command: cmd, EntityID: id, Err: err}

	return j
}
