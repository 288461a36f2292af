package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// guardRejections counts guard invocations that returned at least one error.
	guardRejections = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_guard_rejections_total",
		Help: "Total number of guard rejections by automate, guard and phase",
	}, []string{"automate", "guard", "phase"})

	// guardPanics counts guards that panicked and were recovered.
	guardPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_guard_panics_total",
		Help: "Total number of recovered guard panics by guard and phase",
	}, []string{"guard", "phase"})
)
