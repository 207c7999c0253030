package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	typeLabel   = "type"
	resultLabel = "result"

	resultOK              = "ok"
	resultInvalid         = "invalid"
	resultError           = "error"
	resultBudgetExhausted = "budget_exhausted"
)

var (
	queryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "query_count",
		Help: "The number of queries.",
	}, []string{typeLabel, resultLabel})

	queryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "query_latency_seconds",
		Help:    "The time taken to run a query.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
	}, []string{typeLabel})

	queryVisitedNodes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "query_visited_nodes",
		Help:    "The number of index nodes visited by a query.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{typeLabel})
)

func instrumentQuery(t Type, result string, latency time.Duration, visited int) {
	queryType := string(t)
	switch t {
	case TypePoint, TypeRay, TypeNearest, TypeRegion:
	default:
		// Keeps label cardinality bounded.
		queryType = "unknown"
	}

	queryCount.
		With(prometheus.Labels{
			typeLabel:   queryType,
			resultLabel: result,
		}).
		Inc()

	if result == resultInvalid {
		return
	}

	queryLatency.
		With(prometheus.Labels{typeLabel: queryType}).
		Observe(latency.Seconds())

	if visited > 0 {
		queryVisitedNodes.
			With(prometheus.Labels{typeLabel: queryType}).
			Observe(float64(visited))
	}
}
