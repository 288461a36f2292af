package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/amp-labs/amp-fsm/automate"
	"github.com/amp-labs/amp-fsm/config"
	fsmerrors "github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/guard"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/message"
	"github.com/amp-labs/amp-fsm/persistence"
	"github.com/amp-labs/amp-fsm/persistence/eventsourcing"
	"github.com/amp-labs/amp-fsm/persistence/statestoring"
	"github.com/amp-labs/amp-fsm/utils"
	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/atomic"
)

var (
	errOutOfStock = errors.New("out of stock")       //nolint:gochecknoglobals
	errNoCourier  = errors.New("no courier free")    //nolint:gochecknoglobals
	errEmptyOrder = errors.New("order has no items") //nolint:gochecknoglobals
)

type order struct {
	ID    string
	State automate.State
	Items []string
	Lines []int
}

func (o order) EntityID() string             { return o.ID }
func (o order) CurrentState() automate.State { return o.State }

type placeOrder struct {
	message.Init

	ID    string
	Items []string
}

func (placeOrder) CommandType() automate.CommandType { return "PlaceOrder" }

// orderCommand addresses an existing order. Line is only used by AddLine.
type orderCommand struct {
	Type automate.CommandType
	ID   string
	Line int
}

func (c orderCommand) CommandType() automate.CommandType { return c.Type }
func (c orderCommand) EntityID() string                  { return c.ID }

type orderEvent struct {
	Type  automate.EventType
	ID    string
	State automate.State
	Items []string
	Line  int
}

func (e orderEvent) EventType() automate.EventType { return e.Type }
func (e orderEvent) EntityID() string              { return e.ID }
func (e orderEvent) NewState() automate.State      { return e.State }

func ship(id string) orderCommand    { return orderCommand{Type: "ShipOrder", ID: id} }
func deliver(id string) orderCommand { return orderCommand{Type: "DeliverOrder", ID: id} }

func addLine(id string, line int) orderCommand {
	return orderCommand{Type: "AddLine", ID: id, Line: line}
}

func orderAutomate(t *testing.T) *automate.Automate {
	t.Helper()

	a, err := automate.NewBuilder("order").
		Init("PlaceOrder", "Customer", "Placed", "OrderPlaced").
		Transition("Placed", "AddLine", "Customer", "Placed", "LineAdded").
		Transition("Placed", "ShipOrder", "Admin", "Shipped", "OrderShipped").
		Transition("Shipped", "DeliverOrder", "Courier", "Delivered", "OrderDelivered").
		Build()
	require.NoError(t, err)

	return a
}

func decide(_ context.Context, cmd message.InitCommand) (order, message.Event, error) {
	p, _ := cmd.(placeOrder)

	return order{ID: p.ID, State: "Placed", Items: slices.Clone(p.Items)},
		orderEvent{Type: "OrderPlaced", ID: p.ID, State: "Placed", Items: slices.Clone(p.Items)}, nil
}

// execFor follows the automate's transition table, recording AddLine values.
func execFor(a *automate.Automate) ExecFunc[order] {
	return func(_ context.Context, cmd message.TransitionCommand, o order) (order, message.Event, error) {
		t, ok := a.Lookup(o.State, cmd.CommandType())
		if !ok {
			return order{}, nil, fmt.Errorf("no transition for %s", cmd.CommandType()) //nolint:err113
		}

		c, _ := cmd.(orderCommand)

		next := order{ID: o.ID, State: t.To, Items: slices.Clone(o.Items), Lines: slices.Clone(o.Lines)}
		if c.Line != 0 {
			next.Lines = append(next.Lines, c.Line)
		}

		return next, orderEvent{Type: t.Result, ID: o.ID, State: t.To, Line: c.Line}, nil
	}
}

func foldOrder(event message.Event, prior order, hasPrior bool) (order, error) {
	e, ok := event.(orderEvent)
	if !ok {
		return order{}, eventsourcing.ErrUnhandledEvent
	}

	next := order{ID: e.ID, Items: slices.Clone(e.Items)}
	if hasPrior {
		next.Items = slices.Clone(prior.Items)
		next.Lines = slices.Clone(prior.Lines)
	}

	next.State = e.State
	if e.Line != 0 {
		next.Lines = append(next.Lines, e.Line)
	}

	return next, nil
}

// countingAdapter records how many writes reach the wrapped adapter.
type countingAdapter struct {
	persistence.Adapter[order]

	writes atomic.Int64
}

func (c *countingAdapter) PersistInit(ctx context.Context, entity order, event message.Event) (message.Event, error) {
	c.writes.Inc()

	return c.Adapter.PersistInit(ctx, entity, event)
}

func (c *countingAdapter) Persist(ctx context.Context, entity order, event message.Event, expected uint64) (message.Event, error) {
	c.writes.Inc()

	return c.Adapter.Persist(ctx, entity, event, expected)
}

type adapterCase struct {
	name string
	make func() persistence.Adapter[order]
}

func adapterCases() []adapterCase {
	return []adapterCase{
		{"state storing", func() persistence.Adapter[order] {
			return statestoring.New[order](statestoring.NewMemoryStore[order]())
		}},
		{"event sourcing", func() persistence.Adapter[order] {
			return eventsourcing.New[order](eventsourcing.NewMemoryLog(), eventsourcing.ProjectorFunc[order](foldOrder))
		}},
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	return logger.WithLogger(t.Context(), slogt.New(t))
}

func newEngine(t *testing.T, adapter persistence.Adapter[order], opts ...Option) *Engine[order] {
	t.Helper()

	eng, err := New[order](orderAutomate(t), adapter, opts...)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	return eng
}

func collect(results <-chan Result) []Result {
	var out []Result
	for res := range results {
		out = append(out, res)
	}

	return out
}

func place(t *testing.T, ctx context.Context, eng *Engine[order], ids ...string) { //nolint:revive
	t.Helper()

	for _, id := range ids {
		_, err := eng.CreateOne(ctx, placeOrder{ID: id}, decide)
		require.NoError(t, err)
	}
}

func TestOrderLifecycle(t *testing.T) {
	t.Parallel()

	for _, tc := range adapterCases() {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testContext(t)
			adapter := tc.make()
			eng := newEngine(t, adapter)
			exec := execFor(eng.Automate())

			created := collect(eng.Create(ctx, message.Stream(placeOrder{ID: "O1"}), decide))
			require.Len(t, created, 1)
			require.NoError(t, created[0].Err)
			assert.Equal(t, "O1", created[0].EntityID)
			assert.Equal(t, automate.EventType("OrderPlaced"), created[0].Event.EventType())
			assert.Equal(t, automate.State("Placed"), created[0].Event.NewState())

			shipped := collect(eng.Transition(ctx, message.Stream(ship("O1")), exec))
			require.Len(t, shipped, 1)
			require.NoError(t, shipped[0].Err)
			assert.Equal(t, automate.EventType("OrderShipped"), shipped[0].Event.EventType())
			assert.Equal(t, automate.State("Shipped"), shipped[0].Event.NewState())

			again := collect(eng.Transition(ctx, message.Stream(ship("O1")), exec))
			require.Len(t, again, 1)
			require.ErrorIs(t, again[0].Err, fsmerrors.ErrValidation)
			require.ErrorIs(t, again[0].Err, guard.ErrInvalidTransition)
			assert.Nil(t, again[0].Event)

			var invalid *guard.InvalidTransitionError
			require.ErrorAs(t, again[0].Err, &invalid)
			assert.Equal(t, automate.State("Shipped"), invalid.State)

			stored, version, found, err := adapter.Load(ctx, "O1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, automate.State("Shipped"), stored.State)
			assert.Equal(t, uint64(2), version)
		})
	}
}

func TestGuardErrorsAreAllReported(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	adapter := &countingAdapter{Adapter: adapterCases()[0].make()}

	var calls []string

	var mu sync.Mutex

	record := func(name string, err error) guard.Guard {
		return guard.PreTransition(name, func(context.Context, *guard.Context) error {
			mu.Lock()
			defer mu.Unlock()

			calls = append(calls, name)

			return err
		})
	}

	eng := newEngine(t, adapter, WithGuards(record("stock", errOutOfStock)), WithGuards(record("courier", errNoCourier)))
	place(t, ctx, eng, "O1")

	_, err := eng.TransitionOne(ctx, deliver("O1"), execFor(eng.Automate()))

	var verr *fsmerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 3)
	require.ErrorIs(t, verr.Errors[0], guard.ErrInvalidTransition)
	require.ErrorIs(t, verr.Errors[1], errOutOfStock)
	require.ErrorIs(t, verr.Errors[2], errNoCourier)

	assert.Equal(t, []string{"stock", "courier"}, calls)
	assert.Equal(t, int64(1), adapter.writes.Load(), "only the create was persisted")
}

func TestEmptyOrderCannotShip(t *testing.T) {
	t.Parallel()

	for _, tc := range adapterCases() {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testContext(t)
			adapter := tc.make()

			nonEmpty := guard.PreTransition("non-empty", func(_ context.Context, gc *guard.Context) error {
				o, ok := gc.Entity.(order)
				if !ok {
					return fmt.Errorf("unexpected entity %T", gc.Entity) //nolint:err113
				}

				if gc.Command.CommandType() == "ShipOrder" && len(o.Items) == 0 {
					return errEmptyOrder
				}

				return nil
			})

			eng := newEngine(t, adapter, WithGuards(nonEmpty))
			exec := execFor(eng.Automate())

			_, err := eng.CreateOne(ctx, placeOrder{ID: "O1", Items: []string{"book"}}, decide)
			require.NoError(t, err)

			_, err = eng.CreateOne(ctx, placeOrder{ID: "O2"}, decide)
			require.NoError(t, err)

			results := collect(eng.Transition(ctx, message.Stream(ship("O1"), ship("O2")), exec))
			require.Len(t, results, 2)
			require.NoError(t, results[0].Err)

			var verr *fsmerrors.ValidationError
			require.ErrorAs(t, results[1].Err, &verr)
			require.ErrorIs(t, verr, errEmptyOrder)
			assert.Nil(t, results[1].Event)

			stored, _, _, err := adapter.Load(ctx, "O2")
			require.NoError(t, err)
			assert.Equal(t, automate.State("Placed"), stored.State)
			assert.Empty(t, stored.Items)

			stored, _, _, err = adapter.Load(ctx, "O1")
			require.NoError(t, err)
			assert.Equal(t, automate.State("Shipped"), stored.State)
			assert.Equal(t, []string{"book"}, stored.Items)
		})
	}
}

func TestPerEntityOrdering(t *testing.T) {
	t.Parallel()

	const (
		entities = 40
		lines    = 25
	)

	ctx := testContext(t)
	adapter := adapterCases()[0].make()
	eng := newEngine(t, adapter, WithPartitions(4), WithMailboxDepth(8))

	ids := make([]string, entities)
	for i := range ids {
		ids[i] = fmt.Sprintf("O%02d", i)
	}

	place(t, ctx, eng, ids...)

	cmds := make([]message.Command, 0, entities*lines)
	for line := 1; line <= lines; line++ {
		for _, id := range ids {
			cmds = append(cmds, addLine(id, line))
		}
	}

	results := collect(eng.Transition(ctx, message.Stream(cmds...), execFor(eng.Automate())))
	require.Len(t, results, len(cmds))

	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, cmds[i], res.Command, "results follow read order")
	}

	want := make([]int, lines)
	for i := range want {
		want[i] = i + 1
	}

	for _, id := range ids {
		stored, _, found, err := adapter.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, stored.Lines, id)
	}

	assert.Zero(t, eng.InFlight())
}

func TestConcurrentStreamsKeepPerEntityOrder(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	adapter := adapterCases()[1].make()
	eng := newEngine(t, adapter, WithPartitions(2))
	exec := execFor(eng.Automate())

	place(t, ctx, eng, "A", "B")

	var wg sync.WaitGroup

	for _, id := range []string{"A", "B"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			cmds := make([]message.Command, 0, 10)
			for line := 1; line <= 10; line++ {
				cmds = append(cmds, addLine(id, line))
			}

			for res := range eng.Transition(ctx, message.Stream(cmds...), exec) {
				assert.NoError(t, res.Err)
			}
		}()
	}

	wg.Wait()

	for _, id := range []string{"A", "B"} {
		stored, _, _, err := adapter.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, stored.Lines)
	}
}

func TestFailuresDoNotStopTheStream(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	eng := newEngine(t, adapterCases()[0].make(), WithName("isolation-test"))
	exec := execFor(eng.Automate())

	place(t, ctx, eng, "O1", "O2", "boom")

	panicky := func(ctx context.Context, cmd message.TransitionCommand, o order) (order, message.Event, error) {
		if cmd.EntityID() == "boom" {
			panic("exec exploded")
		}

		return exec(ctx, cmd, o)
	}

	cmds := []message.Command{
		ship("O1"),
		ship("missing"),
		ship("boom"),
		deliver("O2"),
		placeOrder{ID: "O3"},
		nil,
		ship("O2"),
	}

	results := collect(eng.Transition(ctx, message.Stream(cmds...), panicky))
	require.Len(t, results, len(cmds))

	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, fsmerrors.ErrNotFound)
	require.ErrorIs(t, results[2].Err, utils.ErrPanicRecovered)
	require.ErrorIs(t, results[3].Err, guard.ErrInvalidTransition)
	require.ErrorIs(t, results[4].Err, ErrUnexpectedCommand)
	require.ErrorIs(t, results[5].Err, ErrNilCommand)
	require.NoError(t, results[6].Err)

	assert.Equal(t, "missing", results[1].EntityID)

	var pe *utils.PanicError
	require.ErrorAs(t, results[2].Err, &pe)
	assert.Equal(t, "exec exploded", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	assert.InDelta(t, 1, testutil.ToFloat64(businessPanics.WithLabelValues("isolation-test", kindTransition)), 0)
}

func TestNothingIsWrittenWhenGuardsReject(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	adapter := &countingAdapter{Adapter: adapterCases()[1].make()}

	var execCalls atomic.Int64

	eng := newEngine(t, adapter,
		WithGuards(guard.PreInit("closed-store", func(_ context.Context, gc *guard.Context) error {
			if p, _ := gc.Command.(placeOrder); p.ID == "refused" {
				return errOutOfStock
			}

			return nil
		})))

	exec := execFor(eng.Automate())
	counted := func(ctx context.Context, cmd message.TransitionCommand, o order) (order, message.Event, error) {
		execCalls.Inc()

		return exec(ctx, cmd, o)
	}

	_, err := eng.CreateOne(ctx, placeOrder{ID: "refused"}, decide)
	require.ErrorIs(t, err, errOutOfStock)

	place(t, ctx, eng, "O1")

	_, err = eng.TransitionOne(ctx, deliver("O1"), counted)
	require.ErrorIs(t, err, fsmerrors.ErrValidation)

	assert.Zero(t, execCalls.Load(), "business logic never ran")
	assert.Equal(t, int64(1), adapter.writes.Load())

	_, _, found, err := adapter.Load(ctx, "refused")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInconsistentResults(t *testing.T) {
	t.Parallel()

	t.Run("transition", func(t *testing.T) {
		t.Parallel()

		ctx := testContext(t)
		adapter := &countingAdapter{Adapter: adapterCases()[0].make()}
		eng := newEngine(t, adapter)
		place(t, ctx, eng, "O1")

		wrongEvent := func(_ context.Context, _ message.TransitionCommand, o order) (order, message.Event, error) {
			next := order{ID: o.ID, State: "Shipped"}

			return next, orderEvent{Type: "OrderDelivered", ID: o.ID, State: "Shipped"}, nil
		}

		_, err := eng.TransitionOne(ctx, ship("O1"), wrongEvent)

		var ie *fsmerrors.InconsistentResultError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "O1", ie.ID)
		assert.NotEmpty(t, ie.Errors)
		assert.Equal(t, int64(1), adapter.writes.Load())

		stored, _, _, err := adapter.Load(ctx, "O1")
		require.NoError(t, err)
		assert.Equal(t, automate.State("Placed"), stored.State)
	})

	t.Run("init", func(t *testing.T) {
		t.Parallel()

		ctx := testContext(t)
		adapter := &countingAdapter{Adapter: adapterCases()[0].make()}
		eng := newEngine(t, adapter)

		wrongState := func(_ context.Context, cmd message.InitCommand) (order, message.Event, error) {
			p, _ := cmd.(placeOrder)

			return order{ID: p.ID, State: "Shipped"}, orderEvent{Type: "OrderPlaced", ID: p.ID, State: "Placed"}, nil
		}

		_, err := eng.CreateOne(ctx, placeOrder{ID: "O1"}, wrongState)
		require.ErrorIs(t, err, fsmerrors.ErrInconsistentResult)
		assert.Zero(t, adapter.writes.Load())
	})

	t.Run("missing event", func(t *testing.T) {
		t.Parallel()

		ctx := testContext(t)
		eng := newEngine(t, adapterCases()[1].make())

		noEvent := func(_ context.Context, cmd message.InitCommand) (order, message.Event, error) {
			p, _ := cmd.(placeOrder)

			return order{ID: p.ID, State: "Placed"}, nil, nil
		}

		_, err := eng.CreateOne(ctx, placeOrder{ID: "O1"}, noEvent)
		require.ErrorIs(t, err, fsmerrors.ErrInconsistentResult)
	})
}

func TestBusinessErrorsPassThrough(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	eng := newEngine(t, adapterCases()[0].make())

	failing := func(context.Context, message.InitCommand) (order, message.Event, error) {
		return order{}, nil, errOutOfStock
	}

	_, err := eng.CreateOne(ctx, placeOrder{ID: "O1"}, failing)
	require.ErrorIs(t, err, errOutOfStock)
	assert.Equal(t, outcomeBusiness, classify(err))
}

func TestCancellationBeforePersist(t *testing.T) {
	t.Parallel()

	base := testContext(t)
	adapter := &countingAdapter{Adapter: adapterCases()[0].make()}
	eng := newEngine(t, adapter)
	exec := execFor(eng.Automate())

	place(t, base, eng, "O1")

	ctx, cancel := context.WithCancel(base)
	defer cancel()

	cancelling := func(ctx context.Context, cmd message.TransitionCommand, o order) (order, message.Event, error) {
		cancel()

		return exec(ctx, cmd, o)
	}

	_, err := eng.TransitionOne(ctx, ship("O1"), cancelling)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), adapter.writes.Load())

	stored, _, _, err := adapter.Load(base, "O1")
	require.NoError(t, err)
	assert.Equal(t, automate.State("Placed"), stored.State)

	_, err = eng.TransitionOne(ctx, ship("O1"), exec)
	require.ErrorIs(t, err, context.Canceled, "canceled before business logic")
}

func TestDuplicateCreateConflicts(t *testing.T) {
	t.Parallel()

	for _, tc := range adapterCases() {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := testContext(t)
			eng := newEngine(t, tc.make())

			results := collect(eng.Create(ctx, message.Stream(placeOrder{ID: "O1"}, placeOrder{ID: "O1"}), decide))
			require.Len(t, results, 2)

			errs := []error{results[0].Err, results[1].Err}

			conflicts := 0

			for _, err := range errs {
				if errors.Is(err, fsmerrors.ErrConflict) {
					conflicts++

					continue
				}

				require.NoError(t, err)
			}

			assert.Equal(t, 1, conflicts)
		})
	}
}

func TestWrongKindOnCreateStream(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	eng := newEngine(t, adapterCases()[0].make())

	results := collect(eng.Create(ctx, message.Stream(ship("O1"), nil), decide))
	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Err, ErrUnexpectedCommand)
	require.ErrorIs(t, results[0].Err, fsmerrors.ErrValidation)
	require.ErrorIs(t, results[1].Err, ErrNilCommand)
}

func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("rejects later commands", func(t *testing.T) {
		t.Parallel()

		ctx := testContext(t)
		eng := newEngine(t, adapterCases()[0].make())
		place(t, ctx, eng, "O1")

		eng.Close()
		eng.Close()

		_, err := eng.CreateOne(ctx, placeOrder{ID: "O2"}, decide)
		require.ErrorIs(t, err, ErrEngineClosed)

		_, err = eng.TransitionOne(ctx, ship("O1"), execFor(eng.Automate()))
		require.ErrorIs(t, err, ErrEngineClosed)

		assert.Empty(t, collect(eng.Transition(ctx, message.Stream(ship("O1")), execFor(eng.Automate()))))
		assert.Zero(t, eng.InFlight())
	})

	t.Run("ends open streams", func(t *testing.T) {
		t.Parallel()

		ctx := testContext(t)
		eng := newEngine(t, adapterCases()[0].make())

		out := eng.Transition(ctx, make(chan message.Command), execFor(eng.Automate()))

		eng.Close()

		_, ok := <-out
		assert.False(t, ok)
	})

	t.Run("stream ends when context is done", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(testContext(t))
		eng := newEngine(t, adapterCases()[0].make())

		out := eng.Create(ctx, make(chan message.Command), decide)

		cancel()

		_, ok := <-out
		assert.False(t, ok)
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	adapter := adapterCases()[0].make()

	_, err := New[order](nil, adapter)
	require.ErrorIs(t, err, ErrNilAutomate)

	_, err = New[order](orderAutomate(t), nil)
	require.ErrorIs(t, err, ErrNilAdapter)

	_, err = New[order](orderAutomate(t), adapter, WithPartitions(0))
	require.Error(t, err)

	eng, err := New[order](orderAutomate(t), adapter, WithConfig(config.Engine{
		Partitions:        2,
		MailboxDepth:      4,
		CreateConcurrency: 1,
	}))
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	assert.Equal(t, "order", eng.Name())
	assert.Equal(t, "order", eng.Automate().Name())
}

func TestProjectionFailureSurfaces(t *testing.T) {
	t.Parallel()

	ctx := testContext(t)
	log := eventsourcing.NewMemoryLog()

	strict := eventsourcing.NewTypeSwitchProjector[order]().
		On("OrderPlaced", foldOrder)

	adapter := eventsourcing.New[order](log, strict)
	eng := newEngine(t, adapter, WithName("projection-test"))
	exec := execFor(eng.Automate())

	place(t, ctx, eng, "O1")

	// LineAdded has no fold, so the next read cannot rebuild the entity.
	_, err := eng.TransitionOne(ctx, addLine("O1", 1), exec)
	require.NoError(t, err)

	_, err = eng.TransitionOne(ctx, ship("O1"), exec)
	require.ErrorIs(t, err, fsmerrors.ErrProjection)
	assert.Equal(t, outcomeProjection, classify(err))

	_, err = eng.TransitionOne(ctx, ship("O1"), exec)
	require.ErrorIs(t, err, eventsourcing.ErrEntityQuarantined)

	assert.InDelta(t, 2, testutil.ToFloat64(commandsTotal.WithLabelValues("projection-test", kindTransition, outcomeProjection)), 0)
}

func TestCommandMetrics(t *testing.T) {
	t.Parallel()

	const name = "metrics-test"

	ctx := testContext(t)
	eng := newEngine(t, adapterCases()[0].make(), WithName(name))
	exec := execFor(eng.Automate())

	place(t, ctx, eng, "O1")

	collect(eng.Transition(ctx, message.Stream(ship("O1"), ship("O1"), ship("nobody")), exec))

	assert.InDelta(t, 1, testutil.ToFloat64(commandsTotal.WithLabelValues(name, kindCreate, outcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(commandsTotal.WithLabelValues(name, kindTransition, outcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(commandsTotal.WithLabelValues(name, kindTransition, outcomeRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(commandsTotal.WithLabelValues(name, kindTransition, outcomeNotFound)), 0)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(commandDuration), 4)
	assert.Zero(t, testutil.ToFloat64(workerPanics.WithLabelValues(name)))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeOK},
		{&fsmerrors.ValidationError{}, outcomeRejected},
		{ErrNilCommand, outcomeRejected},
		{&fsmerrors.NotFoundError{ID: "x"}, outcomeNotFound},
		{&fsmerrors.ConflictError{ID: "x", Expected: 1, Actual: 2}, outcomeConflict},
		{&fsmerrors.InconsistentResultError{ID: "x"}, outcomeInconsistent},
		{&fsmerrors.PersistenceError{Op: "persist", Err: errOutOfStock}, outcomePersistence},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), outcomeCanceled},
		{errOutOfStock, outcomeBusiness},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err), "%v", tt.err)
	}
}

func attr(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.AsString(), true
		}
	}

	return "", false
}

// TestCommandSpans swaps the global tracer provider, so it cannot run in
// parallel with itself. Other tests only add spans labelled with their own
// engine names.
//
//nolint:paralleltest // Test modifies global OTEL tracer provider
func TestCommandSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	old := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(old) })

	ctx := testContext(t)
	eng := newEngine(t, adapterCases()[0].make(), WithName("spans-test"))

	place(t, ctx, eng, "O1")

	_, err := eng.TransitionOne(ctx, deliver("O1"), execFor(eng.Automate()))
	require.Error(t, err)

	var spans tracetest.SpanStubs

	for _, s := range exporter.GetSpans() {
		if name, _ := attr(s.Attributes, "engine"); name == "spans-test" {
			spans = append(spans, s)
		}
	}

	require.Len(t, spans, 2)

	created := spans[0]
	assert.Equal(t, "fsm.create", created.Name)
	assert.Equal(t, codes.Ok, created.Status.Code)

	outcome, _ := attr(created.Attributes, "outcome")
	assert.Equal(t, outcomeOK, outcome)

	eventType, _ := attr(created.Attributes, "event_type")
	assert.Equal(t, "OrderPlaced", eventType)

	hash, ok := attr(created.Attributes, "entity_id_hash")
	require.True(t, ok)
	assert.Equal(t, hashID("O1"), hash)
	assert.NotContains(t, hash, "O1")

	rejected := spans[1]
	assert.Equal(t, "fsm.transition", rejected.Name)
	assert.Equal(t, codes.Error, rejected.Status.Code)

	outcome, _ = attr(rejected.Attributes, "outcome")
	assert.Equal(t, outcomeRejected, outcome)

	commandType, _ := attr(rejected.Attributes, "command_type")
	assert.Equal(t, "DeliverOrder", commandType)
	assert.NotEmpty(t, rejected.Events, "error recorded on the span")
}
