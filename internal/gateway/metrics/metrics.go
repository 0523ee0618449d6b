package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const MetricPrefix = "gateway_"

// Metrics holds the counters updated on the request path. All of them are registered
// against a single registerer so tests can use their own registry.
type Metrics struct {
	Submissions        *prometheus.CounterVec
	QuotaDebitFailures prometheus.Counter
	QuotaRestored      prometheus.Counter
	QuotaRefreshErrors prometheus.Counter
	Cancellations      *prometheus.CounterVec
	IllegalAccesses    prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "submissions_total",
				Help: "Number of job submissions by outcome",
			},
			[]string{"outcome"},
		),
		QuotaDebitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "quota_debit_failures_total",
			Help: "Number of quota decrements whose debit record could not be written",
		}),
		QuotaRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "quota_restored_total",
			Help: "Number of quota units given back by refreshes",
		}),
		QuotaRefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "quota_refresh_errors_total",
			Help: "Number of debit records a refresh failed to process",
		}),
		Cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "job_cancellations_total",
				Help: "Number of job cancellation attempts by result",
			},
			[]string{"result"},
		),
		IllegalAccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPrefix + "illegal_accesses_total",
			Help: "Number of requests rejected for missing or insufficient credentials",
		}),
	}
	for _, collector := range []prometheus.Collector{
		m.Submissions,
		m.QuotaDebitFailures,
		m.QuotaRestored,
		m.QuotaRefreshErrors,
		m.Cancellations,
		m.IllegalAccesses,
	} {
		registerer.MustRegister(collector)
	}
	return m
}

// NewUnregisteredMetrics returns metrics that are not exposed anywhere.
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
