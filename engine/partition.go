package engine

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/utils"
	"github.com/zeebo/xxh3"
)

// job is one command waiting for its partition. done is buffered so the
// partition never blocks on a slow consumer.
type job struct {
	ctx  context.Context //nolint:containedctx
	run  func(ctx context.Context) Result
	done chan Result
}

func newJob(ctx context.Context, run func(ctx context.Context) Result) *job {
	return &job{ctx: ctx, run: run, done: make(chan Result, 1)}
}

// partition is a single goroutine draining an inbox. Commands routed to the
// same partition run one at a time in the order they were enqueued.
type partition struct {
	engine string
	index  string
	inbox  chan *job
	wg     sync.WaitGroup
}

func newPartition(engine string, index, depth int) *partition {
	p := &partition{
		engine: engine,
		index:  strconv.Itoa(index),
		inbox:  make(chan *job, depth),
	}

	partitionEnqueued.WithLabelValues(engine, p.index).Set(0)
	workerPanics.WithLabelValues(engine).Add(0)

	p.wg.Add(1)

	go p.loop()

	return p
}

func (p *partition) loop() {
	defer p.wg.Done()

	for j := range p.inbox {
		partitionEnqueued.WithLabelValues(p.engine, p.index).Dec()
		p.process(j)
	}
}

func (p *partition) process(j *job) {
	runJob(j, p.engine, "partition "+p.index)
}

// runJob runs j, turning a panic that escaped the job into its result.
func runJob(j *job, engine, where string) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			workerPanics.WithLabelValues(engine).Inc()

			logger.Get(logger.WithAlert(j.ctx)).Error("recovered from panic",
				"engine", engine,
				"where", where,
				"error", r,
				"stack", string(stack))

			j.done <- Result{Err: utils.NewPanicError(where, r, stack)}
		}
	}()

	j.done <- j.run(j.ctx)
}

func (p *partition) enqueue(j *job) {
	partitionEnqueued.WithLabelValues(p.engine, p.index).Inc()
	p.inbox <- j
}

func (p *partition) stop() {
	close(p.inbox)
	p.wg.Wait()
}

// router assigns entity ids to partitions by hash.
type router struct {
	partitions []*partition
}

func newRouter(engine string, count, depth int) *router {
	r := &router{partitions: make([]*partition, count)}
	for i := range count {
		r.partitions[i] = newPartition(engine, i, depth)
	}

	return r
}

func (r *router) route(id string) *partition {
	return r.partitions[xxh3.HashString(id)%uint64(len(r.partitions))]
}

func (r *router) stop() {
	for _, p := range r.partitions {
		p.stop()
	}
}
