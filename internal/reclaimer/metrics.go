package reclaimer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the reclaimer's operational counters.
type Metrics struct {
	Runs             prometheus.Counter
	Reclaimed        prometheus.Counter
	LastRunReclaimed prometheus.Gauge
	PurgedKeys       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "reclaimer_runs_total",
			Help: "Number of completed sweep runs.",
		}),
		Reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reclaimer_reservations_reclaimed_total",
			Help: "Expired reservations returned to available inventory.",
		}),
		LastRunReclaimed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reclaimer_last_run_reclaimed",
			Help: "Reservations reclaimed by the most recent sweep.",
		}),
		PurgedKeys: factory.NewCounter(prometheus.CounterOpts{
			Name: "reclaimer_idempotency_keys_purged_total",
			Help: "Completed idempotency records deleted past retention.",
		}),
	}
}
