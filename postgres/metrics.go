package postgres

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var QueryDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "bridge",
	Subsystem: "postgres",
	Name:      "query_duration_seconds",
	Buckets:   []float64{0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5, 1, 2},
}, []string{"query"})

func observeDuration(query string) func() time.Duration {
	return prometheus.NewTimer(QueryDurations.WithLabelValues(query)).ObserveDuration
}
