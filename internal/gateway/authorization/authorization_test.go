package authorization

import (
	"net/http"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

func newUser(defaultLevel domain.AccessLevel, grants map[string]domain.AccessLevel) *domain.User {
	user := domain.NewUser("alice", 10, time.Now())
	user.DefaultAccessLevel = defaultLevel
	if grants != nil {
		user.AuthorizedAlgorithms = grants
	}
	return user
}

func TestAuthorize(t *testing.T) {
	tests := map[string]struct {
		defaultLevel domain.AccessLevel
		grants       map[string]domain.AccessLevel
		algorithm    string
		requested    domain.AccessLevel
		allowed      bool
	}{
		"default level suffices": {
			defaultLevel: domain.AccessLevelLocationLevel1,
			algorithm:    "density",
			requested:    domain.AccessLevelLocationLevel2,
			allowed:      true,
		},
		"equal level suffices": {
			defaultLevel: domain.AccessLevelAntenna,
			algorithm:    "density",
			requested:    domain.AccessLevelAntenna,
			allowed:      true,
		},
		"default level too low": {
			defaultLevel: domain.AccessLevelCacheOnly,
			algorithm:    "density",
			requested:    domain.AccessLevelLocationLevel2,
			allowed:      false,
		},
		"narrower grant overrides broader default": {
			defaultLevel: domain.AccessLevelAntenna,
			grants:       map[string]domain.AccessLevel{"density": domain.AccessLevelCacheOnly},
			algorithm:    "density",
			requested:    domain.AccessLevelLocationLevel1,
			allowed:      false,
		},
		"broader grant overrides narrower default": {
			defaultLevel: domain.AccessLevelNone,
			grants:       map[string]domain.AccessLevel{"density": domain.AccessLevelAntenna},
			algorithm:    "density",
			requested:    domain.AccessLevelLocationLevel1,
			allowed:      true,
		},
		"grant for another algorithm is ignored": {
			defaultLevel: domain.AccessLevelNone,
			grants:       map[string]domain.AccessLevel{"density": domain.AccessLevelAntenna},
			algorithm:    "mobility-long",
			requested:    domain.AccessLevelCacheOnly,
			allowed:      false,
		},
		"grants match the exact name only": {
			defaultLevel: domain.AccessLevelNone,
			grants:       map[string]domain.AccessLevel{"Density": domain.AccessLevelAntenna},
			algorithm:    "density",
			requested:    domain.AccessLevelCacheOnly,
			allowed:      false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Authorize(newUser(tc.defaultLevel, tc.grants), tc.algorithm, tc.requested)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				var insufficient *gatewayerrors.ErrInsufficientRights
				assert.ErrorAs(t, err, &insufficient)
				assert.Equal(t, tc.algorithm, insufficient.Algorithm)
				assert.Equal(t, tc.requested.String(), insufficient.Requested)
			}
		})
	}
}

func TestAuthorize_MatchesLevelOrder(t *testing.T) {
	levels := domain.AccessLevels()
	property := func(granted, requested uint8) bool {
		g := levels[int(granted)%len(levels)]
		r := levels[int(requested)%len(levels)]
		err := Authorize(newUser(g, nil), "density", r)
		return (err == nil) == (g >= r)
	}
	assert.NoError(t, quick.Check(property, nil))
}

func TestCanAccessJob(t *testing.T) {
	job := &domain.Job{Id: "job", Requester: "alice"}
	owner := newUser(domain.AccessLevelNone, nil)
	other := domain.NewUser("bob", 1, time.Now())
	admin := domain.NewUser("root", 1, time.Now())
	admin.Role = domain.RoleAdmin

	assert.True(t, CanAccessJob(owner, job))
	assert.False(t, CanAccessJob(other, job))
	assert.True(t, CanAccessJob(admin, job))
}

func TestCanManageUser(t *testing.T) {
	admin := domain.NewUser("admin", 1, time.Now())
	admin.Role = domain.RoleAdmin
	superAdmin := domain.NewUser("root", 1, time.Now())
	superAdmin.Role = domain.RoleAdmin
	superAdmin.IsSuperAdmin = true
	standard := domain.NewUser("alice", 1, time.Now())
	otherAdmin := domain.NewUser("other", 1, time.Now())
	otherAdmin.Role = domain.RoleAdmin

	var noPermission *gatewayerrors.ErrNoPermission
	assert.NoError(t, CanManageUser(admin, standard, "create user"))
	assert.ErrorAs(t, CanManageUser(admin, otherAdmin, "create user"), &noPermission)
	assert.NoError(t, CanManageUser(superAdmin, otherAdmin, "create user"))
	assert.ErrorAs(t, CanManageUser(standard, standard, "create user"), &noPermission)
	assert.Equal(t, http.StatusForbidden, gatewayerrors.HTTPStatusFromError(RequireAdmin(standard, "list users")))
}

type stubUsers map[string]*domain.User

func (s stubUsers) GetUserByToken(token string) (*domain.User, error) {
	if user, ok := s[token]; ok {
		return user, nil
	}
	return nil, &gatewayerrors.ErrInvalidCredentials{}
}

func TestTokenAuthService(t *testing.T) {
	alice := newUser(domain.AccessLevelNone, nil)
	service := NewTokenAuthService(stubUsers{"secret": alice})

	user, err := service.Authenticate("secret")
	assert.NoError(t, err)
	assert.Equal(t, alice, user)

	_, err = service.Authenticate("")
	var missing *gatewayerrors.ErrMissingCredentials
	assert.ErrorAs(t, err, &missing)

	_, err = service.Authenticate("wrong")
	var invalid *gatewayerrors.ErrInvalidCredentials
	assert.ErrorAs(t, err, &invalid)
}

func TestTokenFromHeaders(t *testing.T) {
	tests := map[string]struct {
		headers  http.Header
		expected string
	}{
		"authorization header": {
			headers:  http.Header{"Authorization": {"Token abc"}},
			expected: "abc",
		},
		"gateway header": {
			headers:  http.Header{"X-Gateway-Token": {"def"}},
			expected: "def",
		},
		"other scheme falls back": {
			headers:  http.Header{"Authorization": {"Bearer abc"}, "X-Gateway-Token": {"def"}},
			expected: "def",
		},
		"none": {
			headers:  http.Header{},
			expected: "",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TokenFromHeaders(tc.headers.Get))
		})
	}
}
