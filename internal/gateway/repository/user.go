package repository

import (
	"encoding/json"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const (
	userObjectPrefix = "User:"
	userTokenKey     = "Users:Token"
	userNamesKey     = "Users:Names"
)

// Fields of the User:<username> hash. Quota counters are kept out of the
// serialised user so that they can be updated atomically with HINCRBY.
const (
	userDataField           = "data"
	userTokenField          = "token"
	userQuotaAllotmentField = "quotaAllotment"
	userQuotaRemainingField = "quotaRemaining"
)

type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUser(username string) (*domain.User, error)
	GetUserByToken(token string) (*domain.User, error)
	GetUsers() ([]*domain.User, error)
	UpdateUser(user *domain.User) error
	ResetToken(username string, token string) error
	DeleteUser(username string) error
}

type RedisUserRepository struct {
	db redis.UniversalClient
}

func NewRedisUserRepository(db redis.UniversalClient) *RedisUserRepository {
	return &RedisUserRepository{db: db}
}

// Returns 0 if the user exists, -1 if the token is taken, 1 on success.
const createUserScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
if redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[1]) == 0 then
	return -1
end
redis.call('HMSET', KEYS[1], 'data', ARGV[3], 'token', ARGV[2], 'quotaAllotment', ARGV[4], 'quotaRemaining', ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`

func (r *RedisUserRepository) CreateUser(user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return errors.WithStack(err)
	}
	result, err := r.db.Eval(
		createUserScript,
		[]string{userKey(user.Username), userTokenKey, userNamesKey},
		user.Username, user.Token, data, user.QuotaAllotment, user.QuotaRemaining,
	).Int()
	if err != nil {
		return errors.Wrapf(err, "[RedisUserRepository.CreateUser] error writing user %s", user.Username)
	}
	switch result {
	case 0:
		return &gatewayerrors.ErrAlreadyExists{Type: "user", Value: user.Username}
	case -1:
		return &gatewayerrors.ErrAlreadyExists{Type: "token", Value: user.Username, Message: "token collision; retry"}
	}
	return nil
}

func (r *RedisUserRepository) GetUser(username string) (*domain.User, error) {
	fields, err := r.db.HGetAll(userKey(username)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "[RedisUserRepository.GetUser] error reading user %s", username)
	}
	if len(fields) == 0 {
		return nil, &gatewayerrors.ErrNotFound{Type: "user", Value: username}
	}
	return decodeUser(username, fields)
}

func (r *RedisUserRepository) GetUserByToken(token string) (*domain.User, error) {
	username, err := r.db.HGet(userTokenKey, token).Result()
	if err == redis.Nil {
		return nil, &gatewayerrors.ErrInvalidCredentials{}
	} else if err != nil {
		return nil, errors.Wrap(err, "[RedisUserRepository.GetUserByToken] error reading token")
	}
	user, err := r.GetUser(username)
	var notFound *gatewayerrors.ErrNotFound
	if errors.As(err, &notFound) {
		return nil, &gatewayerrors.ErrInvalidCredentials{}
	}
	return user, err
}

func (r *RedisUserRepository) GetUsers() ([]*domain.User, error) {
	names, err := r.db.SMembers(userNamesKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[RedisUserRepository.GetUsers] error reading user names")
	}

	pipe := r.db.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(names))
	for _, name := range names {
		cmds[name] = pipe.HGetAll(userKey(name))
	}
	if _, err := pipe.Exec(); err != nil {
		return nil, errors.Wrap(err, "[RedisUserRepository.GetUsers] error reading users")
	}

	users := make([]*domain.User, 0, len(names))
	for name, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Deleted between SMEMBERS and HGETALL.
			continue
		}
		user, err := decodeUser(name, fields)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// Returns 0 if the user does not exist.
const updateUserScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HMSET', KEYS[1], 'data', ARGV[1], 'quotaAllotment', ARGV[2])
return 1
`

// UpdateUser overwrites the profile and allotment of an existing user.
// The token and the remaining quota are not touched.
func (r *RedisUserRepository) UpdateUser(user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return errors.WithStack(err)
	}
	result, err := r.db.Eval(updateUserScript, []string{userKey(user.Username)}, data, user.QuotaAllotment).Int()
	if err != nil {
		return errors.Wrapf(err, "[RedisUserRepository.UpdateUser] error writing user %s", user.Username)
	}
	if result == 0 {
		return &gatewayerrors.ErrNotFound{Type: "user", Value: user.Username}
	}
	return nil
}

// Returns 0 if the user does not exist, -1 if the new token is taken.
const resetTokenScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[1]) == 0 then
	return -1
end
local old = redis.call('HGET', KEYS[1], 'token')
if old then
	redis.call('HDEL', KEYS[2], old)
end
redis.call('HSET', KEYS[1], 'token', ARGV[2])
return 1
`

func (r *RedisUserRepository) ResetToken(username string, token string) error {
	result, err := r.db.Eval(resetTokenScript, []string{userKey(username), userTokenKey}, username, token).Int()
	if err != nil {
		return errors.Wrapf(err, "[RedisUserRepository.ResetToken] error writing token for %s", username)
	}
	switch result {
	case 0:
		return &gatewayerrors.ErrNotFound{Type: "user", Value: username}
	case -1:
		return &gatewayerrors.ErrAlreadyExists{Type: "token", Value: username, Message: "token collision; retry"}
	}
	return nil
}

// Returns 0 if the user does not exist.
const deleteUserScript = `
local token = redis.call('HGET', KEYS[1], 'token')
if not token then
	return 0
end
redis.call('HDEL', KEYS[2], token)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[1])
return 1
`

func (r *RedisUserRepository) DeleteUser(username string) error {
	result, err := r.db.Eval(deleteUserScript, []string{userKey(username), userTokenKey, userNamesKey}, username).Int()
	if err != nil {
		return errors.Wrapf(err, "[RedisUserRepository.DeleteUser] error deleting user %s", username)
	}
	if result == 0 {
		return &gatewayerrors.ErrNotFound{Type: "user", Value: username}
	}
	return nil
}

func decodeUser(username string, fields map[string]string) (*domain.User, error) {
	user := &domain.User{}
	if err := json.Unmarshal([]byte(fields[userDataField]), user); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling user %s", username)
	}
	allotment, err := strconv.Atoi(fields[userQuotaAllotmentField])
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing quota allotment of user %s", username)
	}
	remaining, err := strconv.Atoi(fields[userQuotaRemainingField])
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing remaining quota of user %s", username)
	}
	user.Token = fields[userTokenField]
	user.QuotaAllotment = allotment
	user.QuotaRemaining = remaining
	if user.AuthorizedAlgorithms == nil {
		user.AuthorizedAlgorithms = map[string]domain.AccessLevel{}
	}
	return user, nil
}

func userKey(username string) string {
	return userObjectPrefix + username
}
