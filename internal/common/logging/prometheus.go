package logging

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// PrometheusHook implements log.Hook and counts log lines per level.
type PrometheusHook struct {
	counter *prometheus.CounterVec
}

// NewPrometheusHook creates a hook whose counter is registered with the given registerer.
// If a counter with the same name is already registered, that one is reused.
func NewPrometheusHook(prefix string, registerer prometheus.Registerer) *PrometheusHook {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "log_messages_total",
			Help: "Total number of log lines logged, by level",
		},
		[]string{"level"},
	)
	if err := registerer.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			counter = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			log.WithError(err).Warn("could not register log line counter")
		}
	}
	return &PrometheusHook{counter: counter}
}

func (h *PrometheusHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *PrometheusHook) Fire(entry *log.Entry) error {
	h.counter.WithLabelValues(entry.Level.String()).Inc()
	return nil
}
