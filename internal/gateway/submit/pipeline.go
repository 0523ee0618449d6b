package submit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/common/util"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/metrics"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
	"github.com/G-Research/analytics-gateway/internal/gateway/resultcache"
	"github.com/G-Research/analytics-gateway/internal/gateway/validation"
)

// Outcome is the exit a submission took. Each one is counted in gateway_submissions_total.
type Outcome string

const (
	Enqueued                 Outcome = "enqueued"
	CacheHit                 Outcome = "cache_hit"
	CacheInFlight            Outcome = "cache_in_flight"
	RejectedValidation       Outcome = "rejected_validation"
	RejectedCredentials      Outcome = "rejected_credentials"
	RejectedQuota            Outcome = "rejected_quota"
	RejectedAuth             Outcome = "rejected_auth"
	RejectedCacheUnavailable Outcome = "rejected_cache_unavailable"
	RejectedBackendDown      Outcome = "rejected_backend_down"
	PersistFailed            Outcome = "persist_failed"
)

const StatusOK = "OK"

type Authenticator interface {
	Authenticate(token string) (*domain.User, error)
}

type QuotaDecrementer interface {
	Decrement(ctx context.Context, username string) error
}

type LivenessProbe interface {
	CheckBackendAlive(ctx context.Context) error
}

type AccessLogger interface {
	LogIllegalAccess(record *domain.IllegalAccessRecord) error
	LogRequest(requester string, params interface{}) error
}

// Submission is one job creation request as received, before anything has been checked.
type Submission struct {
	Token   string
	Path    string
	Headers map[string][]string
	Request map[string]interface{}
}

// Response is the body returned to the client for the three successful exits.
type Response struct {
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	JobId       string          `json:"jobID,omitempty"`
	JobPosition *int            `json:"jobPosition,omitempty"`
}

type Result struct {
	Outcome  Outcome
	Response *Response
	// Only set when the job was persisted.
	Job *domain.Job
}

// Pipeline admits or rejects job submissions. The steps run in a fixed order:
// validate, resolve user, quota gate, decrement, authorize, cache, liveness, persist, position, audit.
type Pipeline struct {
	validator     validation.Validator
	authenticator Authenticator
	quota         QuotaDecrementer
	cache         resultcache.Cache
	liveness      LivenessProbe
	jobRepository repository.JobRepository
	accessLogger  AccessLogger
	clock         clock.PassiveClock
	metrics       *metrics.Metrics
}

func NewPipeline(
	validator validation.Validator,
	authenticator Authenticator,
	quota QuotaDecrementer,
	cache resultcache.Cache,
	liveness LivenessProbe,
	jobRepository repository.JobRepository,
	accessLogger AccessLogger,
	clock clock.PassiveClock,
	metrics *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		validator:     validator,
		authenticator: authenticator,
		quota:         quota,
		cache:         cache,
		liveness:      liveness,
		jobRepository: jobRepository,
		accessLogger:  accessLogger,
		clock:         clock,
		metrics:       metrics,
	}
}

// Submit runs a submission through the pipeline. Rejections are returned as errors from
// gatewayerrors; the outcome is recorded either way.
func (p *Pipeline) Submit(ctx context.Context, submission *Submission) (*Result, error) {
	result, outcome, err := p.submit(ctx, submission)
	p.metrics.Submissions.WithLabelValues(string(outcome)).Inc()
	return result, err
}

func (p *Pipeline) submit(ctx context.Context, submission *Submission) (*Result, Outcome, error) {
	if err := p.validator.CheckFields(ctx, submission.Request); err != nil {
		log.WithError(err).WithField("request", submission.Request).Debug("rejected job request")
		return nil, RejectedValidation, err
	}
	request, err := validation.DecodeJobRequest(submission.Request)
	if err != nil {
		return nil, RejectedValidation, err
	}

	user, err := p.authenticator.Authenticate(submission.Token)
	if err != nil {
		p.recordIllegalAccess(submission, "")
		return nil, RejectedCredentials, err
	}

	if user.QuotaRemaining < 1 {
		return nil, RejectedQuota, &gatewayerrors.ErrQuotaExhausted{Principal: user.Username}
	}

	// Past the gate every request costs one unit, whatever happens next. Quota limits
	// the attempts a user makes, not the jobs that end up queued.
	if err := p.quota.Decrement(ctx, user.Username); err != nil {
		return nil, PersistFailed, &gatewayerrors.ErrPersistence{Message: "could not decrement quota", Cause: err}
	}

	if err := authorization.Authorize(user, request.AlgorithmName, request.AccessLevel); err != nil {
		return nil, RejectedAuth, err
	}

	now := p.clock.Now()
	job := domain.NewQueuedJob(util.NewULIDAt(now), user.Username, request, now)

	cached, err := p.cache.Query(ctx, job)
	if err != nil {
		return nil, RejectedCacheUnavailable, err
	}
	switch cached.Kind {
	case resultcache.Hit:
		return &Result{
			Outcome:  CacheHit,
			Response: &Response{Status: StatusOK, Result: cached.Result},
		}, CacheHit, nil
	case resultcache.InFlight:
		return &Result{
			Outcome:  CacheInFlight,
			Response: &Response{Status: fmt.Sprintf("The Job is being computed. The current status is: %s", cached.Status)},
		}, CacheInFlight, nil
	}

	if err := p.liveness.CheckBackendAlive(ctx); err != nil {
		var down *gatewayerrors.ErrBackendDown
		if errors.As(err, &down) {
			return nil, RejectedBackendDown, err
		}
		return nil, PersistFailed, err
	}

	if err := p.jobRepository.AddJob(job); err != nil {
		return nil, PersistFailed, &gatewayerrors.ErrPersistence{Message: "could not persist job", Cause: err}
	}
	position, err := p.jobRepository.CountActiveJobs()
	if err != nil {
		return nil, PersistFailed, &gatewayerrors.ErrPersistence{
			Message: "job queued but position could not be determined",
			JobId:   job.Id,
			Cause:   err,
		}
	}

	if err := p.accessLogger.LogRequest(user.Username, submission.Request); err != nil {
		logging.WithStacktrace(log.WithField("job", job.Id), err).Error("could not write audit record")
	}
	log.WithField("job", job.Id).WithField("user", user.Username).Infof("job queued at position %d", position)

	return &Result{
		Outcome:  Enqueued,
		Response: &Response{Status: StatusOK, JobId: job.Id, JobPosition: &position},
		Job:      job,
	}, Enqueued, nil
}

func (p *Pipeline) recordIllegalAccess(submission *Submission, username string) {
	p.metrics.IllegalAccesses.Inc()
	record := &domain.IllegalAccessRecord{
		Username: username,
		Token:    submission.Token,
		Headers:  submission.Headers,
		Path:     submission.Path,
	}
	if err := p.accessLogger.LogIllegalAccess(record); err != nil {
		logging.WithStacktrace(log.WithField("path", submission.Path), err).Error("could not record illegal access")
	}
}
