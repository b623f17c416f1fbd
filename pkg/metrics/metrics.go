// Package metrics exposes the daemon's Prometheus collectors: an
// operation-duration histogram wrapping every fallible operation, plus
// counters and gauges for the events and invariants worth observing from
// outside the process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OperationDuration records how long a named operation (e.g.
	// "dataset_snapshot", "dataset_prune", "container_prune",
	// "healthcheck_emit") took, split by outcome.
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blkcapt",
		Name:      "operation_duration_seconds",
		Help:      "Duration of daemon operations by name and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	// SyncBytesTotal accumulates bytes moved through a successful
	// send/receive pipeline, labeled by sync pair.
	SyncBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blkcapt",
		Name:      "sync_bytes_total",
		Help:      "Bytes transferred by completed full or incremental sends.",
	}, []string{"sync_id"})

	// ObservationEmitTotal counts outward healthcheck pings by outcome.
	ObservationEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blkcapt",
		Name:      "observation_emit_total",
		Help:      "Healthcheck ping emissions by outcome.",
	}, []string{"outcome"})

	// HoldsActive reports the number of live holds per owning actor kind,
	// a direct gauge on the no-delete-while-held invariant.
	HoldsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blkcapt",
		Name:      "holds_active",
		Help:      "Currently live snapshot holds by owner kind.",
	}, []string{"owner_kind"})
)

func init() {
	prometheus.MustRegister(OperationDuration, SyncBytesTotal, ObservationEmitTotal, HoldsActive)
}

// OperationTimer times one operation invocation and reports its outcome
// exactly once via ObserveError or ObserveSuccess.
type OperationTimer struct {
	name  string
	start time.Time
}

// StartOperation begins timing an operation named name.
func StartOperation(name string) *OperationTimer {
	return &OperationTimer{name: name, start: time.Now()}
}

// ObserveError records the elapsed duration under the "error" outcome.
func (t *OperationTimer) ObserveError() {
	OperationDuration.WithLabelValues(t.name, "error").Observe(time.Since(t.start).Seconds())
}

// ObserveSuccess records the elapsed duration under the "success" outcome.
func (t *OperationTimer) ObserveSuccess() {
	OperationDuration.WithLabelValues(t.name, "success").Observe(time.Since(t.start).Seconds())
}
