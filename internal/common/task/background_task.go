package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

type task struct {
	function    func()
	interval    time.Duration
	metricName  string
	stopChannel chan bool
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	clock         clock.Clock
	registerer    prometheus.Registerer
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return NewBackgroundTaskManagerWithClock(metricsPrefix, clock.RealClock{}, prometheus.DefaultRegisterer)
}

// NewBackgroundTaskManagerWithClock returns a manager whose tasks wait on the given clock,
// so that tests can drive them with a fake clock.
func NewBackgroundTaskManagerWithClock(metricsPrefix string, c clock.Clock, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		clock:         c,
		registerer:    registerer,
		wg:            &sync.WaitGroup{},
	}
}

// Register runs backgroundTask once immediately and then every interval until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	taskDurationHistogram := m.latencyHistogram(task.metricName)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(task, taskDurationHistogram)

		for {
			select {
			case <-m.clock.After(task.interval):
			case <-task.stopChannel:
				return
			}
			m.run(task, taskDurationHistogram)
		}
	}()
}

func (m *BackgroundTaskManager) run(task *task, histogram prometheus.Observer) {
	start := m.clock.Now()
	task.function()
	histogram.Observe(m.clock.Since(start).Seconds())
}

func (m *BackgroundTaskManager) latencyHistogram(metricName string) prometheus.Histogram {
	histogram := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + metricName + "_latency_seconds",
			Help:    "Background loop " + metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})
	if err := m.registerer.Register(histogram); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Histogram)
		}
		log.WithError(err).Warnf("could not register latency histogram for background task %s", metricName)
	}
	return histogram
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
}
