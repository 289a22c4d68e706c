package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lattice.repository")

var (
	// repositoriesGauge tracks registered repositories by lifecycle state
	repositoriesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lattice_repositories",
		Help: "Registered repositories by state",
	}, []string{"state"})

	// transitionsTotal counts state changes by target state
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_repository_transitions_total",
		Help: "Total repository state transitions by target state",
	}, []string{"state"})

	// branchSwitchesTotal counts reindexes triggered by a checkout
	branchSwitchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_repository_branch_switches_total",
		Help: "Total full reindexes triggered by a branch switch",
	})
)
