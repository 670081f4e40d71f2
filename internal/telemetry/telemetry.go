// Package telemetry exposes sync-engine activity as prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	OpsDispatched  *prometheus.CounterVec
	OpsCompleted   *prometheus.CounterVec
	OpsFailed      *prometheus.CounterVec
	Quarantines    prometheus.Counter
	MergesApplied  prometheus.Counter
	MergesRejected prometheus.Counter

	PhotosTotal   prometheus.Gauge
	EpisodesTotal prometheus.Gauge
	QueuedRecords prometheus.Gauge
}

// New registers the engine collectors with reg. Pass a fresh registry
// in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OpsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "viewfinder",
			Name:      "ops_dispatched_total",
			Help:      "Network operations handed to the dispatcher, by kind.",
		}, []string{"kind"}),
		OpsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "viewfinder",
			Name:      "ops_completed_total",
			Help:      "Network operations committed successfully, by kind.",
		}, []string{"kind"}),
		OpsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "viewfinder",
			Name:      "ops_failed_total",
			Help:      "Network operations that failed, by kind.",
		}, []string{"kind"}),
		Quarantines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "viewfinder",
			Name:      "quarantines_total",
			Help:      "Records quarantined after repeated failures.",
		}),
		MergesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "viewfinder",
			Name:      "merges_applied_total",
			Help:      "Inbound server updates merged into the catalog.",
		}),
		MergesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "viewfinder",
			Name:      "merges_rejected_total",
			Help:      "Inbound server updates rejected for consistency.",
		}),
		PhotosTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "viewfinder",
			Name:      "photos_total",
			Help:      "Photo records in the catalog.",
		}),
		EpisodesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "viewfinder",
			Name:      "episodes_total",
			Help:      "Episode records in the catalog.",
		}),
		QueuedRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "viewfinder",
			Name:      "queued_records",
			Help:      "Records with outstanding network intent.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// disabled configurations.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
