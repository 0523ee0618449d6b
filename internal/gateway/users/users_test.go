package users

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/algorithms"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

var (
	testTime   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	superAdmin = &domain.User{Username: "root", Role: domain.RoleAdmin, IsSuperAdmin: true}
	admin      = &domain.User{Username: "ops", Role: domain.RoleAdmin}
	standard   = &domain.User{Username: "alice", Role: domain.RoleStandard}
)

type stubLister struct {
	err error
}

func (s *stubLister) ListAlgorithms(ctx context.Context) (map[string]algorithms.Algorithm, error) {
	return map[string]algorithms.Algorithm{
		"density":       {Name: "density", Version: "1"},
		"mobility-long": {Name: "mobility-long", Version: "2"},
	}, s.err
}

func withService(t *testing.T, action func(s *Service, repo *repository.RedisUserRepository)) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := repository.NewRedisUserRepository(client)
	service := NewService(repo, &stubLister{}, clock.NewFakePassiveClock(testTime), configuration.QuotaConfig{DefaultAllotment: 50})
	action(service, repo)
}

func level(l domain.AccessLevel) *domain.AccessLevel {
	return &l
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken("alice", testTime)
	require.NoError(t, err)
	second, err := GenerateToken("alice", testTime)
	require.NoError(t, err)

	assert.Len(t, first, 2*tokenKeyLength)
	assert.NotEqual(t, first, second)
}

func TestService_CreateDefaults(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		created, err := s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		require.NoError(t, err)

		stored, err := repo.GetUser("alice")
		require.NoError(t, err)
		assert.Equal(t, created, stored)
		assert.Equal(t, domain.RoleStandard, stored.Role)
		assert.Equal(t, domain.AccessLevelNone, stored.DefaultAccessLevel)
		assert.Empty(t, stored.AuthorizedAlgorithms)
		assert.Equal(t, 50, stored.QuotaAllotment)
		assert.Equal(t, 50, stored.QuotaRemaining)
		assert.NotEmpty(t, stored.Token)

		byToken, err := repo.GetUserByToken(created.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", byToken.Username)
	})
}

func TestService_CreateWithGrants(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		quota := 5
		created, err := s.Create(context.Background(), admin, &NewUserRequest{
			Username:             "alice",
			DefaultAccessLevel:   level(domain.AccessLevelAntenna),
			AuthorizedAlgorithms: map[string]domain.AccessLevel{"density": domain.AccessLevelCacheOnly},
			QuotaAllotment:       &quota,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.AccessLevelAntenna, created.DefaultAccessLevel)
		assert.Equal(t, map[string]domain.AccessLevel{"density": domain.AccessLevelCacheOnly}, created.AuthorizedAlgorithms)
		assert.Equal(t, 5, created.QuotaRemaining)
	})
}

func TestService_CreateRejected(t *testing.T) {
	negative := -1
	tests := map[string]struct {
		actor    *domain.User
		request  *NewUserRequest
		expected interface{}
	}{
		"standard user": {
			actor:    standard,
			request:  &NewUserRequest{Username: "bob"},
			expected: &gatewayerrors.ErrNoPermission{},
		},
		"admin creating admin": {
			actor:    admin,
			request:  &NewUserRequest{Username: "bob", Role: "ADMIN"},
			expected: &gatewayerrors.ErrNoPermission{},
		},
		"missing username": {
			actor:    admin,
			request:  &NewUserRequest{},
			expected: &gatewayerrors.ErrInvalidArgument{},
		},
		"unknown role": {
			actor:    admin,
			request:  &NewUserRequest{Username: "bob", Role: "GUEST"},
			expected: &gatewayerrors.ErrInvalidArgument{},
		},
		"standard super admin": {
			actor:    superAdmin,
			request:  &NewUserRequest{Username: "bob", IsSuperAdmin: true},
			expected: &gatewayerrors.ErrInvalidArgument{},
		},
		"negative quota": {
			actor:    admin,
			request:  &NewUserRequest{Username: "bob", QuotaAllotment: &negative},
			expected: &gatewayerrors.ErrInvalidArgument{},
		},
		"unknown algorithm": {
			actor: admin,
			request: &NewUserRequest{
				Username:             "bob",
				AuthorizedAlgorithms: map[string]domain.AccessLevel{"heatmap": domain.AccessLevelAntenna},
			},
			expected: &gatewayerrors.ErrInvalidArgument{},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			withService(t, func(s *Service, repo *repository.RedisUserRepository) {
				_, err := s.Create(context.Background(), tc.actor, tc.request)
				assert.IsType(t, tc.expected, err)
				names, err := repo.GetUsers()
				require.NoError(t, err)
				assert.Empty(t, names)
			})
		})
	}
}

func TestService_CreateAdminBySuperAdmin(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		created, err := s.Create(context.Background(), superAdmin, &NewUserRequest{Username: "bob", Role: "admin"})
		require.NoError(t, err)
		assert.True(t, created.IsAdmin())
		assert.False(t, created.IsSuperAdmin)
	})
}

func TestService_CreateDuplicate(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		_, err := s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		require.NoError(t, err)
		_, err = s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		var exists *gatewayerrors.ErrAlreadyExists
		assert.ErrorAs(t, err, &exists)
	})
}

func TestService_CreateAlgorithmServiceDown(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		s.algorithms = &stubLister{err: &gatewayerrors.ErrAlgorithmServiceUnavailable{Timeout: true}}
		_, err := s.Create(context.Background(), admin, &NewUserRequest{
			Username:             "alice",
			AuthorizedAlgorithms: map[string]domain.AccessLevel{"density": domain.AccessLevelAntenna},
		})
		var unavailable *gatewayerrors.ErrAlgorithmServiceUnavailable
		assert.ErrorAs(t, err, &unavailable)
	})
}

func TestService_Update(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		created, err := s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		require.NoError(t, err)

		quota := 10
		updated, err := s.Update(context.Background(), admin, "alice", domain.UserUpdate{
			DefaultAccessLevel:   level(domain.AccessLevelLocationLevel2),
			AuthorizedAlgorithms: map[string]domain.AccessLevel{"mobility-long": domain.AccessLevelAntenna},
			QuotaAllotment:       &quota,
		})
		require.NoError(t, err)

		stored, err := repo.GetUser("alice")
		require.NoError(t, err)
		assert.Equal(t, updated, stored)
		assert.Equal(t, created.Token, stored.Token)
		assert.Equal(t, domain.AccessLevelLocationLevel2, stored.DefaultAccessLevel)
		assert.Equal(t, 10, stored.QuotaAllotment)
		assert.Equal(t, 50, stored.QuotaRemaining)
	})
}

func TestService_UpdatePromotionRequiresSuperAdmin(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		_, err := s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		require.NoError(t, err)

		role := domain.RoleAdmin
		_, err = s.Update(context.Background(), admin, "alice", domain.UserUpdate{Role: &role})
		var noPermission *gatewayerrors.ErrNoPermission
		assert.ErrorAs(t, err, &noPermission)

		updated, err := s.Update(context.Background(), superAdmin, "alice", domain.UserUpdate{Role: &role})
		require.NoError(t, err)
		assert.True(t, updated.IsAdmin())
	})
}

func TestService_UpdateMissingUser(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		_, err := s.Update(context.Background(), admin, "ghost", domain.UserUpdate{})
		var notFound *gatewayerrors.ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestService_ResetToken(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		created, err := s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		require.NoError(t, err)

		token, err := s.ResetToken(context.Background(), admin, "alice")
		require.NoError(t, err)
		assert.NotEqual(t, created.Token, token)

		_, err = repo.GetUserByToken(created.Token)
		var invalid *gatewayerrors.ErrInvalidCredentials
		assert.ErrorAs(t, err, &invalid)

		user, err := repo.GetUserByToken(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})
}

func TestService_Delete(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		_, err := s.Create(context.Background(), admin, &NewUserRequest{Username: "alice"})
		require.NoError(t, err)

		var noPermission *gatewayerrors.ErrNoPermission
		assert.ErrorAs(t, s.Delete(context.Background(), standard, "alice"), &noPermission)

		require.NoError(t, s.Delete(context.Background(), admin, "alice"))
		var notFound *gatewayerrors.ErrNotFound
		_, err = repo.GetUser("alice")
		assert.ErrorAs(t, err, &notFound)
		assert.ErrorAs(t, s.Delete(context.Background(), admin, "alice"), &notFound)
	})
}

func TestService_List(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		for _, request := range []*NewUserRequest{
			{Username: "carol"},
			{Username: "alice"},
			{Username: "bob", Role: "ADMIN"},
		} {
			_, err := s.Create(context.Background(), superAdmin, request)
			require.NoError(t, err)
		}

		tests := map[string][]string{
			"ALL":      {"alice", "bob", "carol"},
			"ADMIN":    {"bob"},
			"standard": {"alice", "carol"},
		}
		for role, expected := range tests {
			names, err := s.List(context.Background(), admin, role)
			require.NoError(t, err)
			assert.Equal(t, expected, names, role)
		}

		var invalid *gatewayerrors.ErrInvalidArgument
		_, err := s.List(context.Background(), admin, "GUEST")
		assert.ErrorAs(t, err, &invalid)

		var noPermission *gatewayerrors.ErrNoPermission
		_, err = s.List(context.Background(), standard, "ALL")
		assert.ErrorAs(t, err, &noPermission)
	})
}

func TestService_EnsureSuperAdmin(t *testing.T) {
	withService(t, func(s *Service, repo *repository.RedisUserRepository) {
		created, err := s.EnsureSuperAdmin(context.Background(), "root")
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.True(t, created.IsSuperAdmin)
		assert.True(t, created.IsAdmin())

		again, err := s.EnsureSuperAdmin(context.Background(), "root")
		require.NoError(t, err)
		assert.Nil(t, again)

		stored, err := repo.GetUser("root")
		require.NoError(t, err)
		assert.Equal(t, created.Token, stored.Token)
	})
}
