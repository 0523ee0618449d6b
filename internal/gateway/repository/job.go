package repository

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

// Every job key carries the {Jobs} hash tag so that a job, its history and the indexes live in
// one cluster slot and can be changed by a single script or transaction.
const (
	jobObjectPrefix = "{Jobs}:Job:"
	jobStatusPrefix = "{Jobs}:Job:Status:"
	jobAllKey       = "{Jobs}:All"
	jobActiveKey    = "{Jobs}:Active"
)

type JobRepository interface {
	AddJob(job *domain.Job) error
	GetJob(id string) (*domain.Job, error)
	GetJobs() ([]*domain.Job, error)
	CountActiveJobs() (int, error)
	CompareAndPrependStatus(id string, expected domain.JobStatus, next domain.JobStatus) (bool, error)
}

type RedisJobRepository struct {
	db redis.UniversalClient
}

func NewRedisJobRepository(db redis.UniversalClient) *RedisJobRepository {
	return &RedisJobRepository{db: db}
}

// AddJob stores the job and its status history. The history lives in its own list,
// index 0 being the current status, so that transitions never rewrite the job itself.
func (repo *RedisJobRepository) AddJob(job *domain.Job) error {
	if len(job.StatusHistory) == 0 {
		return errors.Errorf("[RedisJobRepository.AddJob] job %s has no status", job.Id)
	}
	stored := *job
	stored.StatusHistory = nil
	jobData, err := json.Marshal(&stored)
	if err != nil {
		return errors.WithStack(err)
	}

	statuses := make([]interface{}, len(job.StatusHistory))
	for i, status := range job.StatusHistory {
		statuses[i] = string(status)
	}

	pipe := repo.db.TxPipeline()
	pipe.Set(jobObjectPrefix+job.Id, jobData, 0)
	pipe.Del(jobStatusPrefix + job.Id)
	pipe.RPush(jobStatusPrefix+job.Id, statuses...)
	pipe.ZAdd(jobAllKey, redis.Z{
		Member: job.Id,
		Score:  float64(job.Created.UnixMilli()),
	})
	if job.StatusHistory[0].IsActive() {
		pipe.SAdd(jobActiveKey, job.Id)
	} else {
		pipe.SRem(jobActiveKey, job.Id)
	}
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "[RedisJobRepository.AddJob] error writing job %s", job.Id)
	}
	return nil
}

func (repo *RedisJobRepository) GetJob(id string) (*domain.Job, error) {
	jobs, err := repo.getJobsByIds([]string{id})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, &gatewayerrors.ErrNotFound{Type: "job", Value: id}
	}
	return jobs[0], nil
}

// GetJobs returns all jobs, oldest first.
func (repo *RedisJobRepository) GetJobs() ([]*domain.Job, error) {
	ids, err := repo.db.ZRange(jobAllKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisJobRepository.GetJobs] error reading job ids")
	}
	return repo.getJobsByIds(ids)
}

func (repo *RedisJobRepository) getJobsByIds(ids []string) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	pipe := repo.db.Pipeline()
	dataCmds := make([]*redis.StringCmd, len(ids))
	statusCmds := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		dataCmds[i] = pipe.Get(jobObjectPrefix + id)
		statusCmds[i] = pipe.LRange(jobStatusPrefix+id, 0, -1)
	}
	// Missing jobs show up as redis.Nil on their GET.
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "[RedisJobRepository.getJobsByIds] error reading jobs")
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for i, id := range ids {
		data, err := dataCmds[i].Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "[RedisJobRepository.getJobsByIds] error reading job %s", id)
		}
		job := &domain.Job{}
		if err := json.Unmarshal([]byte(data), job); err != nil {
			return nil, errors.Wrapf(err, "[RedisJobRepository.getJobsByIds] error unmarshalling job %s", id)
		}
		for _, status := range statusCmds[i].Val() {
			job.StatusHistory = append(job.StatusHistory, domain.JobStatus(status))
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// CountActiveJobs counts jobs whose current status is one of domain.ActiveStatuses.
func (repo *RedisJobRepository) CountActiveJobs() (int, error) {
	count, err := repo.db.SCard(jobActiveKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "[RedisJobRepository.CountActiveJobs] error counting jobs")
	}
	return int(count), nil
}

// Returns -1 if the job does not exist, 0 if the current status is not the expected one.
const compareAndPrependStatusScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local current = redis.call('LINDEX', KEYS[2], 0)
if current ~= ARGV[1] then
	return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
if ARGV[3] == '1' then
	redis.call('SADD', KEYS[3], ARGV[4])
else
	redis.call('SREM', KEYS[3], ARGV[4])
end
return 1
`

// CompareAndPrependStatus makes next the current status of a job, provided its current status is
// still expected. It returns false without changing anything if another writer got there first.
func (repo *RedisJobRepository) CompareAndPrependStatus(id string, expected domain.JobStatus, next domain.JobStatus) (bool, error) {
	result, err := repo.db.Eval(
		compareAndPrependStatusScript,
		[]string{jobObjectPrefix + id, jobStatusPrefix + id, jobActiveKey},
		string(expected), string(next), activeFlag(next), id,
	).Int()
	if err != nil {
		return false, errors.Wrapf(err, "[RedisJobRepository.CompareAndPrependStatus] error updating status of job %s", id)
	}
	if result == -1 {
		return false, &gatewayerrors.ErrNotFound{Type: "job", Value: id}
	}
	return result == 1, nil
}

func activeFlag(status domain.JobStatus) string {
	if status.IsActive() {
		return "1"
	}
	return "0"
}
