package authorization

import (
	"fmt"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

// Authorize checks that user may run algorithm at the requested access level. A per-algorithm
// grant takes precedence over the default level, even when it is narrower.
func Authorize(user *domain.User, algorithm string, requested domain.AccessLevel) error {
	granted, ok := user.AuthorizedAlgorithms[algorithm]
	if !ok {
		granted = user.DefaultAccessLevel
	}
	if !granted.Allows(requested) {
		return &gatewayerrors.ErrInsufficientRights{
			Principal: user.Username,
			Algorithm: algorithm,
			Granted:   granted.String(),
			Requested: requested.String(),
		}
	}
	return nil
}

// CanAccessJob returns true if the user may see or cancel the job.
func CanAccessJob(user *domain.User, job *domain.Job) bool {
	return user.IsAdmin() || user.Username == job.Requester
}

func RequireAdmin(user *domain.User, action string) error {
	if !user.IsAdmin() {
		return &gatewayerrors.ErrNoPermission{
			Principal: user.Username,
			Action:    action,
			Message:   "the user is not authorized to access this command",
		}
	}
	return nil
}

// CanManageUser checks that actor may create, update or delete target. Any admin may manage
// standard users; only a super admin may manage admins.
func CanManageUser(actor *domain.User, target *domain.User, action string) error {
	if err := RequireAdmin(actor, action); err != nil {
		return err
	}
	if target.IsAdmin() && !actor.IsSuperAdmin {
		return &gatewayerrors.ErrNoPermission{
			Principal: actor.Username,
			Action:    action,
			Message:   fmt.Sprintf("%s is an admin and only a super admin may do this", target.Username),
		}
	}
	return nil
}
