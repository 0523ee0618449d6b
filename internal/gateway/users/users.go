package users

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/algorithms"
	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/configuration"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

const AllRoles = "ALL"

// NewUserRequest is what an admin sends to create a user. Unset fields take the defaults of
// domain.NewUser.
type NewUserRequest struct {
	Username             string                        `json:"username"`
	Role                 string                        `json:"type"`
	IsSuperAdmin         bool                          `json:"isSuperAdmin"`
	DefaultAccessLevel   *domain.AccessLevel           `json:"defaultAccessLevel"`
	AuthorizedAlgorithms map[string]domain.AccessLevel `json:"authorizedAlgorithms"`
	QuotaAllotment       *int                          `json:"quota"`
}

type Service struct {
	repository repository.UserRepository
	algorithms algorithms.Lister
	clock      clock.PassiveClock
	config     configuration.QuotaConfig
}

func NewService(
	repository repository.UserRepository,
	algorithms algorithms.Lister,
	clock clock.PassiveClock,
	config configuration.QuotaConfig,
) *Service {
	return &Service{
		repository: repository,
		algorithms: algorithms,
		clock:      clock,
		config:     config,
	}
}

func (s *Service) Get(ctx context.Context, actor *domain.User, username string) (*domain.User, error) {
	if err := authorization.RequireAdmin(actor, "get user "+username); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.repository.GetUser(username)
}

// List returns the sorted names of the users with the given role, or of every user for AllRoles.
func (s *Service) List(ctx context.Context, actor *domain.User, role string) ([]string, error) {
	if err := authorization.RequireAdmin(actor, "list users"); err != nil {
		return nil, err
	}
	var filter domain.Role
	if role != AllRoles {
		parsed, err := domain.ParseRole(role)
		if err != nil {
			return nil, &gatewayerrors.ErrInvalidArgument{Name: "userType", Value: role, Message: "use ADMIN, STANDARD or ALL"}
		}
		filter = parsed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.repository.GetUsers()
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, user := range all {
		if filter == "" || user.Role == filter {
			names = append(names, user.Username)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Create adds a user with a freshly generated token. Only a super admin may create admins.
func (s *Service) Create(ctx context.Context, actor *domain.User, request *NewUserRequest) (*domain.User, error) {
	if request.Username == "" {
		return nil, &gatewayerrors.ErrInvalidArgument{Name: "username", Value: request.Username, Message: "cannot be empty"}
	}
	allotment := s.config.DefaultAllotment
	if request.QuotaAllotment != nil {
		allotment = *request.QuotaAllotment
	}
	if allotment < 0 {
		return nil, &gatewayerrors.ErrInvalidArgument{Name: "quota", Value: allotment, Message: "cannot be negative"}
	}

	user := domain.NewUser(request.Username, allotment, s.clock.Now())
	if request.Role != "" {
		role, err := domain.ParseRole(request.Role)
		if err != nil {
			return nil, &gatewayerrors.ErrInvalidArgument{Name: "type", Value: request.Role, Message: err.Error()}
		}
		user.Role = role
	}
	if request.IsSuperAdmin && !user.IsAdmin() {
		return nil, &gatewayerrors.ErrInvalidArgument{Name: "isSuperAdmin", Value: true, Message: "only admins can be super admins"}
	}
	user.IsSuperAdmin = request.IsSuperAdmin
	if request.DefaultAccessLevel != nil {
		user.DefaultAccessLevel = *request.DefaultAccessLevel
	}
	if request.AuthorizedAlgorithms != nil {
		user.AuthorizedAlgorithms = request.AuthorizedAlgorithms
	}

	if err := authorization.CanManageUser(actor, user, "create user "+user.Username); err != nil {
		return nil, err
	}
	if err := s.checkAlgorithms(ctx, user.AuthorizedAlgorithms); err != nil {
		return nil, err
	}

	token, err := GenerateToken(user.Username, user.Created)
	if err != nil {
		return nil, err
	}
	user.Token = token
	if err := s.repository.CreateUser(user); err != nil {
		return nil, err
	}
	log.WithField("user", user.Username).WithField("by", actor.Username).Infof("created %s user", user.Role)
	return user, nil
}

// Update merges update into an existing user. Promoting a user to admin, or changing an admin,
// requires a super admin.
func (s *Service) Update(ctx context.Context, actor *domain.User, username string, update domain.UserUpdate) (*domain.User, error) {
	if err := authorization.RequireAdmin(actor, "update user "+username); err != nil {
		return nil, err
	}
	existing, err := s.repository.GetUser(username)
	if err != nil {
		return nil, err
	}
	updated := update.Apply(existing)
	for _, target := range []*domain.User{existing, updated} {
		if err := authorization.CanManageUser(actor, target, "update user "+username); err != nil {
			return nil, err
		}
	}
	if updated.QuotaAllotment < 0 {
		return nil, &gatewayerrors.ErrInvalidArgument{Name: "quota", Value: updated.QuotaAllotment, Message: "cannot be negative"}
	}
	if !updated.IsAdmin() {
		updated.IsSuperAdmin = false
	}
	if err := s.checkAlgorithms(ctx, updated.AuthorizedAlgorithms); err != nil {
		return nil, err
	}
	if err := s.repository.UpdateUser(updated); err != nil {
		return nil, err
	}
	log.WithField("user", username).WithField("by", actor.Username).Info("updated user")
	return updated, nil
}

// ResetToken gives the user a new token and returns it. The old token stops working at once.
func (s *Service) ResetToken(ctx context.Context, actor *domain.User, username string) (string, error) {
	if err := authorization.RequireAdmin(actor, "reset the token of "+username); err != nil {
		return "", err
	}
	user, err := s.repository.GetUser(username)
	if err != nil {
		return "", err
	}
	if err := authorization.CanManageUser(actor, user, "reset the token of "+username); err != nil {
		return "", err
	}
	token, err := GenerateToken(user.Username, user.Created)
	if err != nil {
		return "", err
	}
	if err := s.repository.ResetToken(username, token); err != nil {
		return "", err
	}
	log.WithField("user", username).WithField("by", actor.Username).Info("reset token")
	return token, nil
}

func (s *Service) Delete(ctx context.Context, actor *domain.User, username string) error {
	if err := authorization.RequireAdmin(actor, "delete user "+username); err != nil {
		return err
	}
	user, err := s.repository.GetUser(username)
	if err != nil {
		return err
	}
	if err := authorization.CanManageUser(actor, user, "delete user "+username); err != nil {
		return err
	}
	if user.Username == actor.Username {
		return &gatewayerrors.ErrInvalidArgument{Name: "username", Value: username, Message: "users cannot delete themselves"}
	}
	if err := s.repository.DeleteUser(username); err != nil {
		return err
	}
	log.WithField("user", username).WithField("by", actor.Username).Info("deleted user")
	return nil
}

// EnsureSuperAdmin creates a super admin called username unless a user of that name exists.
// It returns the new user, or nil if nothing was created.
func (s *Service) EnsureSuperAdmin(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := s.repository.GetUser(username)
	if err == nil {
		return nil, nil
	}
	var notFound *gatewayerrors.ErrNotFound
	if !errors.As(err, &notFound) {
		return nil, err
	}

	user := domain.NewUser(username, s.config.DefaultAllotment, s.clock.Now())
	user.Role = domain.RoleAdmin
	user.IsSuperAdmin = true
	user.DefaultAccessLevel = domain.AccessLevelAntenna
	if user.Token, err = GenerateToken(user.Username, user.Created); err != nil {
		return nil, err
	}
	if err := s.repository.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) checkAlgorithms(ctx context.Context, authorized map[string]domain.AccessLevel) error {
	if len(authorized) == 0 {
		return nil
	}
	available, err := s.algorithms.ListAlgorithms(ctx)
	if err != nil {
		return err
	}
	for name := range authorized {
		if _, ok := available[name]; !ok {
			return &gatewayerrors.ErrInvalidArgument{
				Name:    "authorizedAlgorithms",
				Value:   name,
				Message: fmt.Sprintf("algorithm %s is not available in the algorithm service", name),
			}
		}
	}
	return nil
}
