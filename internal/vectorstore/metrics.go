package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OperationsTotal counts engine operations.
// Labels: engine (chromem, qdrant), operation, result (success, error)
var OperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collectiond",
		Subsystem: "vectorstore",
		Name:      "operations_total",
		Help:      "Total number of vector engine operations",
	},
	[]string{"engine", "operation", "result"},
)

func observe(engine, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(engine, operation, result).Inc()
}
