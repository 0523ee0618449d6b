package repository

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const (
	serviceStatusKey           = "ServiceStatus"
	serviceStatusLastUpdateKey = "ServiceStatus:LastUpdate"
)

type ServiceStatusRepository interface {
	ReportStatus(status *domain.ServiceStatus) error
	GetStatuses() ([]*domain.ServiceStatus, error)
	GetStatusesUpdatedSince(since time.Time) ([]*domain.ServiceStatus, error)
	RemoveStatus(id string) error
}

type RedisServiceStatusRepository struct {
	db redis.UniversalClient
}

func NewRedisServiceStatusRepository(db redis.UniversalClient) *RedisServiceStatusRepository {
	return &RedisServiceStatusRepository{db: db}
}

func (r *RedisServiceStatusRepository) ReportStatus(status *domain.ServiceStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return errors.WithStack(err)
	}
	pipe := r.db.TxPipeline()
	pipe.HSet(serviceStatusKey, status.Id, data)
	pipe.ZAdd(serviceStatusLastUpdateKey, redis.Z{
		Member: status.Id,
		Score:  float64(status.LastUpdate.UnixMilli()),
	})
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "[RedisServiceStatusRepository.ReportStatus] error writing status of %s", status.Id)
	}
	return nil
}

func (r *RedisServiceStatusRepository) GetStatuses() ([]*domain.ServiceStatus, error) {
	values, err := r.db.HGetAll(serviceStatusKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisServiceStatusRepository.GetStatuses] error reading statuses")
	}
	statuses := make([]*domain.ServiceStatus, 0, len(values))
	for id, data := range values {
		status, err := decodeServiceStatus(id, data)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// GetStatusesUpdatedSince returns the statuses last reported at or after since.
func (r *RedisServiceStatusRepository) GetStatusesUpdatedSince(since time.Time) ([]*domain.ServiceStatus, error) {
	ids, err := r.db.ZRangeByScore(serviceStatusLastUpdateKey, redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisServiceStatusRepository.GetStatusesUpdatedSince] error reading status ids")
	}
	if len(ids) == 0 {
		return []*domain.ServiceStatus{}, nil
	}

	values, err := r.db.HMGet(serviceStatusKey, ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisServiceStatusRepository.GetStatusesUpdatedSince] error reading statuses")
	}
	statuses := make([]*domain.ServiceStatus, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		status, err := decodeServiceStatus(ids[i], data)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (r *RedisServiceStatusRepository) RemoveStatus(id string) error {
	pipe := r.db.TxPipeline()
	pipe.HDel(serviceStatusKey, id)
	pipe.ZRem(serviceStatusLastUpdateKey, id)
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "[RedisServiceStatusRepository.RemoveStatus] error removing status of %s", id)
	}
	return nil
}

func decodeServiceStatus(id string, data string) (*domain.ServiceStatus, error) {
	status := &domain.ServiceStatus{}
	if err := json.Unmarshal([]byte(data), status); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling status of %s", id)
	}
	return status, nil
}
