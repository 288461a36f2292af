package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindCreate     = "create"
	kindTransition = "transition"
)

var (
	// commandsTotal counts processed commands by outcome.
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_commands_total",
		Help: "Total number of commands processed by engine, kind and outcome",
	}, []string{"engine", "kind", "outcome"})

	// commandDuration tracks time from dequeue to result.
	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name:    "fsm_command_duration_seconds",
		Help:    "Duration of command processing by engine, kind and outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"engine", "kind", "outcome"})

	// partitionEnqueued tracks commands waiting in each partition inbox.
	partitionEnqueued = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "fsm_partition_enqueued",
		Help: "Number of commands waiting in a partition inbox",
	}, []string{"engine", "partition"})

	// workerPanics counts panics that escaped a command and were recovered
	// by a partition goroutine or a create pool worker.
	workerPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_worker_panics_total",
		Help: "Total number of panics recovered by engine workers",
	}, []string{"engine"})

	// businessPanics counts panics recovered from decide and exec functions.
	businessPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_business_logic_panics_total",
		Help: "Total number of panics recovered from business logic by engine and kind",
	}, []string{"engine", "kind"})
)
