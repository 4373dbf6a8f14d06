package http

import (
	"context"

	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/pkg/middleware"
)

// Gateway bridges middleware.Auth to the service's token and version checks.
func Gateway(svc *service.AuthService) middleware.Authenticator {
	return func(ctx context.Context, token string) (*middleware.Principal, error) {
		user, claims, err := svc.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{
			UserID:       user.ID,
			SessionID:    claims.SessionID,
			Email:        user.Email,
			TokenVersion: user.TokenVersion,
		}, nil
	}
}
