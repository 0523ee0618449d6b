package repository

import (
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const (
	quotaDebitKey        = "QuotaDebit"
	quotaDebitOwnerKey   = "QuotaDebit:Owner"
	quotaDebitUserPrefix = "QuotaDebit:User:"
)

// Outcome of claiming a single debit during a refresh.
type ClaimResult int

const (
	// Another refresh removed the debit first.
	DebitAlreadyClaimed ClaimResult = 0
	// The debit was removed and its owner given one unit back.
	DebitRestored ClaimResult = 1
	// The debit was removed but its owner no longer exists.
	DebitDropped ClaimResult = -1
)

type QuotaRepository interface {
	DecrementQuota(username string) (remaining int, err error)
	AppendDebit(record domain.QuotaDebitRecord) error
	ExpiredDebits(cutoff time.Time) ([]string, error)
	ClaimDebit(debitId string) (ClaimResult, error)
	RestoreAllotment(username string) error
	DeleteDebitsOf(username string) error
	SetAllotment(usernames []string, allotment int) error
	GetQuotaStatus(username string) (domain.QuotaStatus, error)
}

type RedisQuotaRepository struct {
	db redis.UniversalClient
}

func NewRedisQuotaRepository(db redis.UniversalClient) *RedisQuotaRepository {
	return &RedisQuotaRepository{db: db}
}

// Returns false (nil) if the user does not exist, the new remaining quota otherwise.
const decrementQuotaScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return redis.call('HINCRBY', KEYS[1], 'quotaRemaining', -1)
`

// DecrementQuota takes one unit from the remaining quota of a user, without any lower bound.
func (r *RedisQuotaRepository) DecrementQuota(username string) (int, error) {
	remaining, err := r.db.Eval(decrementQuotaScript, []string{userKey(username)}).Int()
	if err == redis.Nil {
		return 0, &gatewayerrors.ErrNotFound{Type: "user", Value: username}
	} else if err != nil {
		return 0, errors.Wrapf(err, "[RedisQuotaRepository.DecrementQuota] error decrementing quota of %s", username)
	}
	return remaining, nil
}

// AppendDebit records a unit of consumed quota. The debit is indexed by time for refreshes,
// by id for its owner and by owner for resets.
func (r *RedisQuotaRepository) AppendDebit(record domain.QuotaDebitRecord) error {
	pipe := r.db.TxPipeline()
	pipe.ZAdd(quotaDebitKey, redis.Z{
		Member: record.Id,
		Score:  float64(record.Timestamp.UnixMilli()),
	})
	pipe.HSet(quotaDebitOwnerKey, record.Id, record.Username)
	pipe.SAdd(quotaDebitUserPrefix+record.Username, record.Id)
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "[RedisQuotaRepository.AppendDebit] error writing debit %s of %s", record.Id, record.Username)
	}
	return nil
}

// ExpiredDebits returns the ids of all debits recorded strictly before cutoff.
func (r *RedisQuotaRepository) ExpiredDebits(cutoff time.Time) ([]string, error) {
	ids, err := r.db.ZRangeByScore(quotaDebitKey, redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisQuotaRepository.ExpiredDebits] error reading debits")
	}
	return ids, nil
}

// The ZREM is the claim: only the caller that removes the debit gives the unit back.
const claimDebitScript = `
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local owner = redis.call('HGET', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
if not owner then
	return -1
end
redis.call('SREM', ARGV[2] .. owner, ARGV[1])
local userKey = ARGV[3] .. owner
if redis.call('EXISTS', userKey) == 0 then
	return -1
end
redis.call('HINCRBY', userKey, 'quotaRemaining', 1)
return 1
`

func (r *RedisQuotaRepository) ClaimDebit(debitId string) (ClaimResult, error) {
	result, err := r.db.Eval(
		claimDebitScript,
		[]string{quotaDebitKey, quotaDebitOwnerKey},
		debitId, quotaDebitUserPrefix, userObjectPrefix,
	).Int()
	if err != nil {
		return DebitAlreadyClaimed, errors.Wrapf(err, "[RedisQuotaRepository.ClaimDebit] error claiming debit %s", debitId)
	}
	return ClaimResult(result), nil
}

// Returns 0 if the user does not exist.
const restoreAllotmentScript = `
local allotment = redis.call('HGET', KEYS[1], 'quotaAllotment')
if not allotment then
	return 0
end
redis.call('HSET', KEYS[1], 'quotaRemaining', allotment)
return 1
`

// RestoreAllotment sets the remaining quota of a user back to its allotment.
func (r *RedisQuotaRepository) RestoreAllotment(username string) error {
	result, err := r.db.Eval(restoreAllotmentScript, []string{userKey(username)}).Int()
	if err != nil {
		return errors.Wrapf(err, "[RedisQuotaRepository.RestoreAllotment] error resetting quota of %s", username)
	}
	if result == 0 {
		return &gatewayerrors.ErrNotFound{Type: "user", Value: username}
	}
	return nil
}

// DeleteDebitsOf removes every outstanding debit of a user without giving anything back.
func (r *RedisQuotaRepository) DeleteDebitsOf(username string) error {
	userDebitsKey := quotaDebitUserPrefix + username
	ids, err := r.db.SMembers(userDebitsKey).Result()
	if err != nil {
		return errors.Wrapf(err, "[RedisQuotaRepository.DeleteDebitsOf] error reading debits of %s", username)
	}
	if len(ids) == 0 {
		return nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := r.db.TxPipeline()
	pipe.ZRem(quotaDebitKey, members...)
	pipe.HDel(quotaDebitOwnerKey, ids...)
	pipe.SRem(userDebitsKey, members...)
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrapf(err, "[RedisQuotaRepository.DeleteDebitsOf] error deleting debits of %s", username)
	}
	return nil
}

const setAllotmentScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'quotaAllotment', ARGV[1])
return 1
`

// SetAllotment sets the allotment of every named user that still exists.
func (r *RedisQuotaRepository) SetAllotment(usernames []string, allotment int) error {
	if len(usernames) == 0 {
		return nil
	}
	pipe := r.db.Pipeline()
	for _, username := range usernames {
		pipe.Eval(setAllotmentScript, []string{userKey(username)}, allotment)
	}
	if _, err := pipe.Exec(); err != nil {
		return errors.Wrap(err, "[RedisQuotaRepository.SetAllotment] error writing allotments")
	}
	return nil
}

func (r *RedisQuotaRepository) GetQuotaStatus(username string) (domain.QuotaStatus, error) {
	pipe := r.db.Pipeline()
	countersCmd := pipe.HMGet(userKey(username), userQuotaAllotmentField, userQuotaRemainingField)
	debitsCmd := pipe.SCard(quotaDebitUserPrefix + username)
	if _, err := pipe.Exec(); err != nil {
		return domain.QuotaStatus{}, errors.Wrapf(err, "[RedisQuotaRepository.GetQuotaStatus] error reading quota of %s", username)
	}

	counters := countersCmd.Val()
	if len(counters) != 2 || counters[0] == nil || counters[1] == nil {
		return domain.QuotaStatus{}, &gatewayerrors.ErrNotFound{Type: "user", Value: username}
	}
	allotment, err := strconv.Atoi(counters[0].(string))
	if err != nil {
		return domain.QuotaStatus{}, errors.WithStack(err)
	}
	remaining, err := strconv.Atoi(counters[1].(string))
	if err != nil {
		return domain.QuotaStatus{}, errors.WithStack(err)
	}
	return domain.QuotaStatus{
		Username:          username,
		Allotment:         allotment,
		Remaining:         remaining,
		OutstandingDebits: int(debitsCmd.Val()),
	}, nil
}
