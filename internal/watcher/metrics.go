package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts debounced events by kind
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_watcher_events_total",
		Help: "Total debounced change events emitted by kind",
	}, []string{"kind"})

	// droppedTotal counts raw events dropped because the queue was full
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_watcher_dropped_total",
		Help: "Total raw filesystem events dropped on a full queue",
	})

	// pendingGauge tracks paths waiting for their debounce timer
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_watcher_pending_paths",
		Help: "Paths with a pending debounce timer",
	})
)
