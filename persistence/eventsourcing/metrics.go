package eventsourcing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsAppended counts events appended to the log.
	eventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_events_appended_total",
		Help: "Total number of events appended by adapter and event type",
	}, []string{"adapter", "event_type"})

	// eventsReplayed counts events folded while loading entities.
	eventsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_events_replayed_total",
		Help: "Total number of events folded during replay by adapter",
	}, []string{"adapter"})

	// snapshotsSaved counts snapshots written to the cache.
	snapshotsSaved = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_snapshots_saved_total",
		Help: "Total number of snapshots saved by adapter",
	}, []string{"adapter"})

	// projectionFailures counts entities quarantined after a failed replay.
	projectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_projection_failures_total",
		Help: "Total number of replays that failed to fold an event, by adapter and event type",
	}, []string{"adapter", "event_type"})
)
