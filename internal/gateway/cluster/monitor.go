package cluster

import (
	"context"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

// Specs is the full view of the cluster returned to admins.
type Specs struct {
	Alive               bool                    `json:"alive"`
	MissingServiceTypes []string                `json:"missingServiceTypes"`
	Statuses            []*domain.ServiceStatus `json:"statuses"`
	GatewayInstanceId   string                  `json:"gatewayInstanceId"`
}

// Monitor reads the heartbeats of the backend services and writes the gateway's own.
type Monitor struct {
	repository repository.ServiceStatusRepository
	clock      clock.PassiveClock
	liveness   configuration.LivenessConfig
	self       domain.ServiceStatus
}

func NewMonitor(
	repository repository.ServiceStatusRepository,
	clock clock.PassiveClock,
	liveness configuration.LivenessConfig,
	heartbeat configuration.HeartbeatConfig,
	port int,
) *Monitor {
	hostname := heartbeat.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	return &Monitor{
		repository: repository,
		clock:      clock,
		liveness:   liveness,
		self: domain.ServiceStatus{
			Id:       uuid.New().String(),
			Type:     domain.ServiceTypeApi,
			Hostname: hostname,
			Port:     port,
			Status:   domain.ServiceStatusIdle,
			Version:  heartbeat.Version,
		},
	}
}

func (m *Monitor) InstanceId() string {
	return m.self.Id
}

// MissingServiceTypes returns the required service types without a heartbeat inside the window.
// The reported status of an instance does not matter, only the age of its heartbeat.
// A datastore failure is reported as ErrPersistence, never as missing services.
func (m *Monitor) MissingServiceTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fresh, err := m.repository.GetStatusesUpdatedSince(m.clock.Now().Add(-m.liveness.HeartbeatWindow))
	if err != nil {
		return nil, &gatewayerrors.ErrPersistence{Message: "could not read service heartbeats", Cause: err}
	}
	seen := map[string]bool{}
	for _, status := range fresh {
		seen[status.Type] = true
	}
	missing := []string{}
	for _, serviceType := range m.liveness.RequiredServiceTypes {
		if !seen[serviceType] {
			missing = append(missing, serviceType)
		}
	}
	return missing, nil
}

// CheckBackendAlive returns ErrBackendDown unless every required service type has a fresh heartbeat.
func (m *Monitor) CheckBackendAlive(ctx context.Context) error {
	missing, err := m.MissingServiceTypes(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &gatewayerrors.ErrBackendDown{MissingServiceTypes: missing}
	}
	return nil
}

func (m *Monitor) Statuses(ctx context.Context) ([]*domain.ServiceStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	statuses, err := m.repository.GetStatuses()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(statuses, func(a, b *domain.ServiceStatus) bool {
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Id < b.Id
	})
	return statuses, nil
}

func (m *Monitor) Specs(ctx context.Context) (*Specs, error) {
	missing, err := m.MissingServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := m.Statuses(ctx)
	if err != nil {
		return nil, err
	}
	return &Specs{
		Alive:               len(missing) == 0,
		MissingServiceTypes: missing,
		Statuses:            statuses,
		GatewayInstanceId:   m.self.Id,
	}, nil
}

// Heartbeat reports the gateway itself as alive.
func (m *Monitor) Heartbeat(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status := m.self
	status.LastUpdate = m.clock.Now()
	return m.repository.ReportStatus(&status)
}

func (m *Monitor) HeartbeatTask(ctx context.Context) func() {
	return func() {
		if err := m.Heartbeat(ctx); err != nil {
			logging.WithStacktrace(log.WithField("instance", m.self.Id), err).Warn("failed to report heartbeat")
		}
	}
}

// Deregister removes the gateway's heartbeat on shutdown.
func (m *Monitor) Deregister() error {
	return m.repository.RemoveStatus(m.self.Id)
}
