package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricAuditEntriesTotal       = "audit_entries_total"
	MetricAuditWriteFailuresTotal = "audit_write_failures_total"
)

// Metrics contains Prometheus metrics for audit logging. Write failures are
// deliberately surfaced here: audit failures never abort the caller, so the
// counter is the only place a persistent failure becomes visible.
type Metrics struct {
	entriesTotal  prometheus.Counter
	writeFailures prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditEntriesTotal,
			Help: "Total number of audit entries successfully appended",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditWriteFailuresTotal,
			Help: "Total number of audit entries that could not be persisted",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.entriesTotal,
		m.writeFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
