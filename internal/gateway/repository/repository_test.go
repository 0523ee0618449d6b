package repository

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func withRedis(t *testing.T, action func(db *redis.Client, mr *miniredis.Miniredis)) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	action(client, mr)
}

func addTestUser(t *testing.T, db *redis.Client, username string, allotment int) *domain.User {
	user := domain.NewUser(username, allotment, testTime)
	user.Token = "token-" + username
	require.NoError(t, NewRedisUserRepository(db).CreateUser(user))
	return user
}
