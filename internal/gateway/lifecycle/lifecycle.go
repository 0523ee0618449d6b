package lifecycle

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/metrics"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

// Lifecycle governs the status transitions a client may ask for. Everything else about a job
// after it is queued belongs to the scheduler.
type Lifecycle struct {
	jobRepository repository.JobRepository
	config        configuration.LifecycleConfig
	metrics       *metrics.Metrics
}

func NewLifecycle(jobRepository repository.JobRepository, config configuration.LifecycleConfig, metrics *metrics.Metrics) *Lifecycle {
	return &Lifecycle{
		jobRepository: jobRepository,
		config:        config,
		metrics:       metrics,
	}
}

// Get returns the job if user is an admin or the requester of the job.
func (l *Lifecycle) Get(ctx context.Context, jobId string, user *domain.User) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := l.jobRepository.GetJob(jobId)
	if err != nil {
		return nil, err
	}
	if !authorization.CanAccessJob(user, job) {
		return nil, &gatewayerrors.ErrNoPermission{Principal: user.Username, Action: "get job " + jobId}
	}
	return job, nil
}

// List returns every job. Admins only.
func (l *Lifecycle) List(ctx context.Context, user *domain.User) ([]*domain.Job, error) {
	if err := authorization.RequireAdmin(user, "list jobs"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.jobRepository.GetJobs()
}

// Cancel makes CANCELLED the current status of a job. The transition only happens if the status
// read is still current when it is written; otherwise the job is read again and the checks
// repeated, up to MaxCancelAttempts times.
func (l *Lifecycle) Cancel(ctx context.Context, jobId string, user *domain.User) (*domain.Job, error) {
	job, err := l.cancel(ctx, jobId, user)
	l.metrics.Cancellations.WithLabelValues(cancellationResult(err)).Inc()
	return job, err
}

func (l *Lifecycle) cancel(ctx context.Context, jobId string, user *domain.User) (*domain.Job, error) {
	for attempt := 1; attempt <= l.config.MaxCancelAttempts; attempt++ {
		job, err := l.Get(ctx, jobId, user)
		if err != nil {
			return nil, err
		}
		current := job.CurrentStatus()
		if !current.IsCancellable() {
			return nil, &gatewayerrors.ErrPreconditionFailed{
				Message: fmt.Sprintf("job %s cannot be cancelled as its current status is %s", jobId, current),
			}
		}

		ok, err := l.jobRepository.CompareAndPrependStatus(jobId, current, domain.JobStatusCancelled)
		if err != nil {
			return nil, err
		}
		if ok {
			job.StatusHistory = append([]domain.JobStatus{domain.JobStatusCancelled}, job.StatusHistory...)
			log.WithField("job", jobId).WithField("user", user.Username).Infof("job cancelled from %s", current)
			return job, nil
		}
		log.WithField("job", jobId).Debugf("status of job changed from %s while cancelling (attempt %d)", current, attempt)
	}
	return nil, &gatewayerrors.ErrPreconditionFailed{
		Message: fmt.Sprintf("job %s could not be cancelled as its status kept changing", jobId),
	}
}

func cancellationResult(err error) string {
	if err == nil {
		return "cancelled"
	}
	{
		var e *gatewayerrors.ErrNotFound
		if errors.As(err, &e) {
			return "not_found"
		}
	}
	{
		var e *gatewayerrors.ErrNoPermission
		if errors.As(err, &e) {
			return "forbidden"
		}
	}
	{
		var e *gatewayerrors.ErrPreconditionFailed
		if errors.As(err, &e) {
			return "precondition_failed"
		}
	}
	return "error"
}
