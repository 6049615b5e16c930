package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SagaTotal counts finished sagas.
// Labels: saga, outcome (success, partial, noop, failed)
var SagaTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collectiond",
		Subsystem: "lifecycle",
		Name:      "saga_total",
		Help:      "Total number of lifecycle sagas by outcome",
	},
	[]string{"saga", "outcome"},
)

// StepFailuresTotal counts saga steps that failed and were continued past.
// Labels: saga, store
var StepFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collectiond",
		Subsystem: "lifecycle",
		Name:      "step_failures_total",
		Help:      "Total number of failed lifecycle saga steps",
	},
	[]string{"saga", "store"},
)
