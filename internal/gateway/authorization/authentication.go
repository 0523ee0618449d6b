package authorization

import (
	"strings"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
)

const (
	AuthorizationHeader = "Authorization"
	TokenHeader         = "X-Gateway-Token"
	tokenScheme         = "Token "
)

type UserGetter interface {
	GetUserByToken(token string) (*domain.User, error)
}

// TokenAuthService resolves the user a request is made on behalf of.
type TokenAuthService struct {
	users UserGetter
}

func NewTokenAuthService(users UserGetter) *TokenAuthService {
	return &TokenAuthService{users: users}
}

// Authenticate returns ErrMissingCredentials if token is empty and ErrInvalidCredentials
// if it does not belong to any user.
func (s *TokenAuthService) Authenticate(token string) (*domain.User, error) {
	if token == "" {
		return nil, &gatewayerrors.ErrMissingCredentials{}
	}
	return s.users.GetUserByToken(token)
}

// TokenFromHeaders extracts the token from "Authorization: Token <token>", falling back to
// the X-Gateway-Token header.
func TokenFromHeaders(get func(string) string) string {
	if value := get(AuthorizationHeader); strings.HasPrefix(value, tokenScheme) {
		return strings.TrimSpace(strings.TrimPrefix(value, tokenScheme))
	}
	return strings.TrimSpace(get(TokenHeader))
}
