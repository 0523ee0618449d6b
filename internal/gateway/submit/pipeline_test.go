package submit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/audit"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/metrics"
	"github.com/G-Research/analytics-gateway/internal/gateway/quota"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
	"github.com/G-Research/analytics-gateway/internal/gateway/resultcache"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubValidator struct {
	err error
}

func (v *stubValidator) CheckFields(ctx context.Context, request map[string]interface{}) error {
	return v.err
}

type stubCache struct {
	outcome resultcache.Outcome
	err     error
	queried []*domain.Job
}

func (c *stubCache) Query(ctx context.Context, job *domain.Job) (resultcache.Outcome, error) {
	c.queried = append(c.queried, job)
	return c.outcome, c.err
}

type stubLiveness struct {
	err error
}

func (l *stubLiveness) CheckBackendAlive(ctx context.Context) error {
	return l.err
}

type failingDecrementer struct{}

func (failingDecrementer) Decrement(ctx context.Context, username string) error {
	return errors.New("connection reset")
}

type positionlessJobRepository struct {
	*repository.RedisJobRepository
}

func (r positionlessJobRepository) CountActiveJobs() (int, error) {
	return 0, errors.New("connection reset")
}

type fixture struct {
	pipeline  *Pipeline
	validator *stubValidator
	cache     *stubCache
	liveness  *stubLiveness
	users     *repository.RedisUserRepository
	quotas    *repository.RedisQuotaRepository
	jobs      *repository.RedisJobRepository
	audits    *repository.RedisAuditRepository
	metrics   *metrics.Metrics
	auditDir  string
}

func withPipeline(t *testing.T, action func(f *fixture)) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	fakeClock := clock.NewFakePassiveClock(testTime)
	f := &fixture{
		validator: &stubValidator{},
		cache:     &stubCache{outcome: resultcache.Outcome{Kind: resultcache.Miss}},
		liveness:  &stubLiveness{},
		users:     repository.NewRedisUserRepository(client),
		quotas:    repository.NewRedisQuotaRepository(client),
		jobs:      repository.NewRedisJobRepository(client),
		audits:    repository.NewRedisAuditRepository(client),
		metrics:   metrics.NewUnregisteredMetrics(),
		auditDir:  t.TempDir(),
	}
	accessLogger, err := audit.NewLogger(configuration.AuditConfig{Directory: f.auditDir}, f.audits, fakeClock)
	require.NoError(t, err)
	defer accessLogger.Close()
	f.pipeline = NewPipeline(
		f.validator,
		authorization.NewTokenAuthService(f.users),
		quota.NewLedger(f.quotas, f.users, fakeClock, f.metrics),
		f.cache,
		f.liveness,
		f.jobs,
		accessLogger,
		fakeClock,
		f.metrics,
	)
	action(f)
}

func (f *fixture) addUser(t *testing.T, username string, allotment int, defaultLevel domain.AccessLevel) {
	user := domain.NewUser(username, allotment, testTime)
	user.Token = "token-" + username
	user.DefaultAccessLevel = defaultLevel
	require.NoError(t, f.users.CreateUser(user))
}

func (f *fixture) quota(t *testing.T, username string) domain.QuotaStatus {
	status, err := f.quotas.GetQuotaStatus(username)
	require.NoError(t, err)
	return status
}

func (f *fixture) jobCount(t *testing.T) int {
	jobs, err := f.jobs.GetJobs()
	require.NoError(t, err)
	return len(jobs)
}

func (f *fixture) outcomes(outcome Outcome) float64 {
	return testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(string(outcome)))
}

func submission(token string) *Submission {
	return &Submission{
		Token:   token,
		Path:    "/job/create",
		Headers: map[string][]string{"User-Agent": {"test"}},
		Request: map[string]interface{}{
			"algorithmName": "mobility-long",
			"accessLevel":   "location_level_1",
			"startDate":     "2014-01-01T00:00:00Z",
			"endDate":       "2015-12-31T23:00:00Z",
			"params": map[string]interface{}{
				"start_window": "2014-01-01T10:00:00Z",
				"end_window":   "2015-12-31T22:00:00Z",
			},
		},
	}
}

func TestPipeline_Enqueued(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 1, domain.AccessLevelAntenna)

		result, err := f.pipeline.Submit(context.Background(), submission("token-alice"))
		require.NoError(t, err)

		assert.Equal(t, Enqueued, result.Outcome)
		assert.Equal(t, StatusOK, result.Response.Status)
		assert.NotEmpty(t, result.Response.JobId)
		require.NotNil(t, result.Response.JobPosition)
		assert.Equal(t, 1, *result.Response.JobPosition)

		assert.Equal(t, domain.QuotaStatus{Username: "alice", Allotment: 1, Remaining: 0, OutstandingDebits: 1}, f.quota(t, "alice"))

		job, err := f.jobs.GetJob(result.Response.JobId)
		require.NoError(t, err)
		assert.Equal(t, "alice", job.Requester)
		assert.Equal(t, domain.AccessLevelLocationLevel1, job.AccessLevel)
		assert.Equal(t, []domain.JobStatus{domain.JobStatusQueued}, job.StatusHistory)
		assert.Equal(t, testTime, job.Created.UTC())

		content, err := os.ReadFile(filepath.Join(f.auditDir, "ALL_audit.log"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(content), "Requester:alice Parameters:{"))

		assert.Equal(t, 1.0, f.outcomes(Enqueued))
	})
}

func TestPipeline_ResponseBody(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 5, domain.AccessLevelAntenna)

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))
		require.NoError(t, err)
		result, err := f.pipeline.Submit(context.Background(), submission("token-alice"))
		require.NoError(t, err)

		encoded, err := json.Marshal(result.Response)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(encoded, &body))
		assert.Equal(t, "OK", body["status"])
		assert.Equal(t, result.Response.JobId, body["jobID"])
		assert.Equal(t, 2.0, body["jobPosition"])
		assert.NotContains(t, body, "result")
	})
}

func TestPipeline_ValidationFailureConsumesNothing(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 1, domain.AccessLevelAntenna)
		f.validator.err = &gatewayerrors.ErrValidation{Check: "core schema", Message: "startDate is required"}

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var validationErr *gatewayerrors.ErrValidation
		assert.ErrorAs(t, err, &validationErr)
		assert.Equal(t, 1, f.quota(t, "alice").Remaining)
		assert.Equal(t, 0, f.quota(t, "alice").OutstandingDebits)
		assert.Equal(t, 1.0, f.outcomes(RejectedValidation))
	})
}

func TestPipeline_Credentials(t *testing.T) {
	tests := map[string]struct {
		token    string
		expected error
	}{
		"missing token": {token: "", expected: &gatewayerrors.ErrMissingCredentials{}},
		"unknown token": {token: "token-mallory", expected: &gatewayerrors.ErrInvalidCredentials{}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			withPipeline(t, func(f *fixture) {
				f.addUser(t, "alice", 1, domain.AccessLevelAntenna)

				_, err := f.pipeline.Submit(context.Background(), submission(tc.token))

				assert.Equal(t, tc.expected, err)
				assert.Equal(t, 1, f.quota(t, "alice").Remaining)
				records, err := f.audits.GetIllegalAccesses(0)
				require.NoError(t, err)
				require.Len(t, records, 1)
				assert.Equal(t, tc.token, records[0].Token)
				assert.Equal(t, "/job/create", records[0].Path)
				assert.Equal(t, 1.0, f.outcomes(RejectedCredentials))
			})
		})
	}
}

func TestPipeline_QuotaExhausted(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 0, domain.AccessLevelAntenna)

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var exhausted *gatewayerrors.ErrQuotaExhausted
		assert.ErrorAs(t, err, &exhausted)
		assert.Equal(t, domain.QuotaStatus{Username: "alice"}, f.quota(t, "alice"))
		assert.Empty(t, f.cache.queried)
		assert.Equal(t, 1.0, f.outcomes(RejectedQuota))
	})
}

func TestPipeline_AuthorizationFailureStillCostsQuota(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 2, domain.AccessLevelCacheOnly)

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var insufficient *gatewayerrors.ErrInsufficientRights
		assert.ErrorAs(t, err, &insufficient)
		assert.Equal(t, domain.QuotaStatus{Username: "alice", Allotment: 2, Remaining: 1, OutstandingDebits: 1}, f.quota(t, "alice"))
		assert.Empty(t, f.cache.queried)
		assert.Equal(t, 0, f.jobCount(t))

		// Only unknown credentials are illegal accesses.
		records, err := f.audits.GetIllegalAccesses(0)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Equal(t, 1.0, f.outcomes(RejectedAuth))
	})
}

func TestPipeline_CacheOutcomes(t *testing.T) {
	tests := map[string]struct {
		outcome          resultcache.Outcome
		err              error
		expectedOutcome  Outcome
		expectedResponse *Response
	}{
		"hit": {
			outcome:          resultcache.Outcome{Kind: resultcache.Hit, Result: json.RawMessage(`{"count":3}`)},
			expectedOutcome:  CacheHit,
			expectedResponse: &Response{Status: StatusOK, Result: json.RawMessage(`{"count":3}`)},
		},
		"in flight": {
			outcome:          resultcache.Outcome{Kind: resultcache.InFlight, Status: "RUNNING"},
			expectedOutcome:  CacheInFlight,
			expectedResponse: &Response{Status: "The Job is being computed. The current status is: RUNNING"},
		},
		"unavailable": {
			err:             &gatewayerrors.ErrCacheUnavailable{Cause: errors.New("connection refused")},
			expectedOutcome: RejectedCacheUnavailable,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			withPipeline(t, func(f *fixture) {
				f.addUser(t, "alice", 3, domain.AccessLevelAntenna)
				f.cache.outcome = tc.outcome
				f.cache.err = tc.err
				f.liveness.err = &gatewayerrors.ErrBackendDown{MissingServiceTypes: []string{"compute"}}

				result, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

				if tc.err != nil {
					assert.Equal(t, tc.err, err)
					assert.Nil(t, result)
				} else {
					require.NoError(t, err)
					assert.Equal(t, tc.expectedOutcome, result.Outcome)
					assert.Equal(t, tc.expectedResponse, result.Response)
					assert.Nil(t, result.Job)
				}
				assert.Equal(t, 0, f.jobCount(t))
				assert.Equal(t, 2, f.quota(t, "alice").Remaining)
				assert.Equal(t, 1.0, f.outcomes(tc.expectedOutcome))
			})
		})
	}
}

func TestPipeline_InFlightResubmissionCreatesNoJob(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 5, domain.AccessLevelAntenna)

		first, err := f.pipeline.Submit(context.Background(), submission("token-alice"))
		require.NoError(t, err)
		require.Equal(t, Enqueued, first.Outcome)

		f.cache.outcome = resultcache.Outcome{Kind: resultcache.InFlight, Status: "QUEUED"}
		second, err := f.pipeline.Submit(context.Background(), submission("token-alice"))
		require.NoError(t, err)

		assert.Equal(t, CacheInFlight, second.Outcome)
		assert.True(t, strings.HasPrefix(second.Response.Status, "The Job is being computed"))
		assert.Equal(t, 1, f.jobCount(t))
		assert.Equal(t, 3, f.quota(t, "alice").Remaining)
	})
}

func TestPipeline_BackendDown(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 1, domain.AccessLevelAntenna)
		f.liveness.err = &gatewayerrors.ErrBackendDown{MissingServiceTypes: []string{"privacy"}}

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var down *gatewayerrors.ErrBackendDown
		assert.ErrorAs(t, err, &down)
		assert.Equal(t, 0, f.jobCount(t))
		assert.Equal(t, 0, f.quota(t, "alice").Remaining)
		assert.Equal(t, 1.0, f.outcomes(RejectedBackendDown))
	})
}

func TestPipeline_LivenessProbeDatastoreError(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 1, domain.AccessLevelAntenna)
		f.liveness.err = &gatewayerrors.ErrPersistence{Message: "could not read heartbeats"}

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var persistence *gatewayerrors.ErrPersistence
		assert.ErrorAs(t, err, &persistence)
		assert.Equal(t, 1.0, f.outcomes(PersistFailed))
		assert.Equal(t, 0.0, f.outcomes(RejectedBackendDown))
	})
}

func TestPipeline_DecrementFailureAborts(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 1, domain.AccessLevelAntenna)
		f.pipeline.quota = failingDecrementer{}

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var persistence *gatewayerrors.ErrPersistence
		assert.ErrorAs(t, err, &persistence)
		assert.Empty(t, f.cache.queried)
		assert.Equal(t, 1.0, f.outcomes(PersistFailed))
	})
}

func TestPipeline_PositionFailureKeepsJob(t *testing.T) {
	withPipeline(t, func(f *fixture) {
		f.addUser(t, "alice", 1, domain.AccessLevelAntenna)
		f.pipeline.jobRepository = positionlessJobRepository{f.jobs}

		_, err := f.pipeline.Submit(context.Background(), submission("token-alice"))

		var persistence *gatewayerrors.ErrPersistence
		require.ErrorAs(t, err, &persistence)
		assert.Equal(t, "job queued but position could not be determined", persistence.Message)
		assert.NotEmpty(t, persistence.JobId)

		job, err := f.jobs.GetJob(persistence.JobId)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.CurrentStatus())
		assert.Equal(t, 0, f.quota(t, "alice").Remaining)
	})
}
