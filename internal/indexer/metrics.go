package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lattice.indexer")

var (
	// filesTotal counts indexed files by language and outcome
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_indexer_files_total",
		Help: "Total files processed by the bulk indexer by language and status",
	}, []string{"language", "status"})

	// parseDuration tracks per-file parse and mapping latency
	parseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_indexer_parse_duration_seconds",
		Help:    "Per-file parse duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"language"})

	// indexDuration tracks whole-repository indexing runs
	indexDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lattice_indexer_run_duration_seconds",
		Help:    "Bulk indexing run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	// linksTotal counts cross-file edges produced by the linker
	linksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_indexer_links_total",
		Help: "Total cross-file edges created by the linker by edge kind",
	}, []string{"kind"})
)
