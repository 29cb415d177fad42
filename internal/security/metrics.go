package security

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names exposed by this package.
const (
	MetricLoginAttemptsTotal   = "secore_login_attempts_total"
	MetricAccountLockoutsTotal = "secore_account_lockouts_total"
	MetricSessionsCreatedTotal = "secore_sessions_created_total"
)

// Metrics holds the Prometheus collectors for the security service.
type Metrics struct {
	loginAttempts   *prometheus.CounterVec
	accountLockouts prometheus.Counter
	sessionsCreated prometheus.Counter
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLoginAttemptsTotal,
			Help: "Login attempts tracked, by outcome status.",
		}, []string{"status"}),
		accountLockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAccountLockoutsTotal,
			Help: "Login attempts rejected because the account was locked out.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsCreatedTotal,
			Help: "Security sessions created.",
		}),
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		m.loginAttempts,
		m.accountLockouts,
		m.sessionsCreated,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
