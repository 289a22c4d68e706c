package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lattice.pipeline")

var (
	// eventsTotal counts processed change events by kind and outcome
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_pipeline_events_total",
		Help: "Total change events processed by kind and status",
	}, []string{"kind", "status"})

	// patchesTotal counts patches applied to the store
	patchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_pipeline_patches_total",
		Help: "Total incremental patches applied",
	})

	// operationsTotal counts patch operations by type
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_pipeline_operations_total",
		Help: "Total patch operations applied by operation",
	}, []string{"op"})

	// processDuration tracks time from event to applied patch
	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_pipeline_process_duration_seconds",
		Help:    "Time to turn one change event into an applied patch",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
)
