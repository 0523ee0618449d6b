package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

// ExposeDataMetrics registers a collector reading queue and service state from the datastore on every scrape.
func ExposeDataMetrics(
	registerer prometheus.Registerer,
	jobRepository repository.JobRepository,
	serviceStatusRepository repository.ServiceStatusRepository,
) *GatewayInfoCollector {
	collector := &GatewayInfoCollector{
		jobRepository:           jobRepository,
		serviceStatusRepository: serviceStatusRepository,
	}
	registerer.MustRegister(collector)
	return collector
}

type GatewayInfoCollector struct {
	jobRepository           repository.JobRepository
	serviceStatusRepository repository.ServiceStatusRepository
}

var queueSizeDesc = prometheus.NewDesc(
	MetricPrefix+"queue_size",
	"Number of jobs waiting or running",
	nil,
	nil,
)

var serviceInstancesDesc = prometheus.NewDesc(
	MetricPrefix+"service_instances",
	"Number of service instances with a heartbeat, by type and status",
	[]string{"type", "status"},
	nil,
)

func (c *GatewayInfoCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- queueSizeDesc
	desc <- serviceInstancesDesc
}

func (c *GatewayInfoCollector) Collect(metrics chan<- prometheus.Metric) {
	queueSize, e := c.jobRepository.CountActiveJobs()
	if e != nil {
		log.Errorf("Error while getting queue size metrics %s", e)
		recordInvalidMetrics(metrics, e)
		return
	}

	statuses, e := c.serviceStatusRepository.GetStatuses()
	if e != nil {
		log.Errorf("Error while getting service status metrics %s", e)
		recordInvalidMetrics(metrics, e)
		return
	}

	metrics <- prometheus.MustNewConstMetric(queueSizeDesc, prometheus.GaugeValue, float64(queueSize))

	type key struct{ serviceType, status string }
	counts := map[key]int{}
	for _, status := range statuses {
		counts[key{status.Type, status.Status}]++
	}
	for k, count := range counts {
		metrics <- prometheus.MustNewConstMetric(serviceInstancesDesc, prometheus.GaugeValue, float64(count), k.serviceType, k.status)
	}
}

func recordInvalidMetrics(metrics chan<- prometheus.Metric, e error) {
	metrics <- prometheus.NewInvalidMetric(queueSizeDesc, e)
	metrics <- prometheus.NewInvalidMetric(serviceInstancesDesc, e)
}
