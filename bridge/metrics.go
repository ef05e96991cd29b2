package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "requests_total",
		Help:      "Finished bridge requests by direction and terminal status.",
	}, []string{"direction", "status"})

	PhaseDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge",
		Name:      "phase_duration_seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"direction", "phase"})

	StrandedDeposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "stranded_deposits_total",
		Help:      "Confirmed deposits whose disbursement failed.",
	}, []string{"direction"})

	HookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "hook_failures_total",
	})
)

func observePhase(direction, phase string) func() time.Duration {
	return prometheus.NewTimer(PhaseDurations.WithLabelValues(direction, phase)).ObserveDuration
}
