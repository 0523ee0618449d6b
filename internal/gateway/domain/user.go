package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStandard Role = "STANDARD"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(s)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleStandard:
		return RoleStandard, nil
	default:
		return "", errors.Errorf("unknown user type %q; use %q or %q", s, RoleAdmin, RoleStandard)
	}
}

type User struct {
	Username             string                 `json:"username"`
	Token                string                 `json:"token"`
	Role                 Role                   `json:"type"`
	IsSuperAdmin         bool                   `json:"isSuperAdmin"`
	DefaultAccessLevel   AccessLevel            `json:"defaultAccessLevel"`
	AuthorizedAlgorithms map[string]AccessLevel `json:"authorizedAlgorithms"`
	// QuotaRemaining may exceed QuotaAllotment after the allotment is lowered,
	// since refreshes always give back what was debited.
	QuotaAllotment int       `json:"quota"`
	QuotaRemaining int       `json:"currentQuota"`
	Created        time.Time `json:"created"`
}

// NewUser returns a standard user with no access and a full quota.
func NewUser(username string, allotment int, created time.Time) *User {
	return &User{
		Username:             username,
		Role:                 RoleStandard,
		DefaultAccessLevel:   AccessLevelNone,
		AuthorizedAlgorithms: map[string]AccessLevel{},
		QuotaAllotment:       allotment,
		QuotaRemaining:       allotment,
		Created:              created,
	}
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserUpdate holds the fields an admin may change on an existing user.
// Nil fields are left untouched. Username, token and super admin status cannot be updated.
type UserUpdate struct {
	Role                 *Role                  `json:"type,omitempty"`
	DefaultAccessLevel   *AccessLevel           `json:"defaultAccessLevel,omitempty"`
	AuthorizedAlgorithms map[string]AccessLevel `json:"authorizedAlgorithms,omitempty"`
	QuotaAllotment       *int                   `json:"quota,omitempty"`
}

// Apply returns a copy of u with the update merged in.
func (update UserUpdate) Apply(u *User) *User {
	merged := *u
	if update.Role != nil {
		merged.Role = *update.Role
	}
	if update.DefaultAccessLevel != nil {
		merged.DefaultAccessLevel = *update.DefaultAccessLevel
	}
	if update.AuthorizedAlgorithms != nil {
		merged.AuthorizedAlgorithms = update.AuthorizedAlgorithms
	}
	if update.QuotaAllotment != nil {
		merged.QuotaAllotment = *update.QuotaAllotment
	}
	return &merged
}
