package repository

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const (
	illegalAccessKey = "Audit:IllegalAccess"
	auditAccessKey   = "Audit:Access"
)

type AuditRepository interface {
	RecordIllegalAccess(record *domain.IllegalAccessRecord) error
	RecordAuditAccess(record *domain.AuditAccessRecord) error
	// Both return the most recent records first.
	GetIllegalAccesses(limit int) ([]*domain.IllegalAccessRecord, error)
	GetAuditAccesses(limit int) ([]*domain.AuditAccessRecord, error)
}

type RedisAuditRepository struct {
	db redis.UniversalClient
}

func NewRedisAuditRepository(db redis.UniversalClient) *RedisAuditRepository {
	return &RedisAuditRepository{db: db}
}

func (r *RedisAuditRepository) RecordIllegalAccess(record *domain.IllegalAccessRecord) error {
	return r.push(illegalAccessKey, record)
}

func (r *RedisAuditRepository) RecordAuditAccess(record *domain.AuditAccessRecord) error {
	return r.push(auditAccessKey, record)
}

func (r *RedisAuditRepository) GetIllegalAccesses(limit int) ([]*domain.IllegalAccessRecord, error) {
	values, err := r.latest(illegalAccessKey, limit)
	if err != nil {
		return nil, err
	}
	records := make([]*domain.IllegalAccessRecord, 0, len(values))
	for _, value := range values {
		record := &domain.IllegalAccessRecord{}
		if err := json.Unmarshal([]byte(value), record); err != nil {
			return nil, errors.WithStack(err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *RedisAuditRepository) GetAuditAccesses(limit int) ([]*domain.AuditAccessRecord, error) {
	values, err := r.latest(auditAccessKey, limit)
	if err != nil {
		return nil, err
	}
	records := make([]*domain.AuditAccessRecord, 0, len(values))
	for _, value := range values {
		record := &domain.AuditAccessRecord{}
		if err := json.Unmarshal([]byte(value), record); err != nil {
			return nil, errors.WithStack(err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *RedisAuditRepository) push(key string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := r.db.LPush(key, data).Err(); err != nil {
		return errors.Wrapf(err, "[RedisAuditRepository.push] error writing to %s", key)
	}
	return nil
}

// A limit of zero or less returns everything.
func (r *RedisAuditRepository) latest(key string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := r.db.LRange(key, 0, stop).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "[RedisAuditRepository.latest] error reading %s", key)
	}
	return values, nil
}
