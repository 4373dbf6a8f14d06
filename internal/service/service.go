// Package service holds the auth engine: credential flows, the session
// registry and the one-time token ledger.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

// EventPublisher emits domain events. Failures are logged by the caller and
// never fail the request.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishPasswordChanged(ctx context.Context, userID, reason string) error
	PublishSessionsRevoked(ctx context.Context, userID string, revoked int64, keptSessionID string) error
	PublishEmailVerified(ctx context.Context, userID string) error
	PublishUserDeleted(ctx context.Context, userID string) error
}

// IdentityResolver turns an OAuth credential into a verified identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, cred identity.Credential) (*identity.External, error)
}

// RequestGuard decides whether a request is silently suppressed. An empty
// ip or email skips that dimension.
type RequestGuard interface {
	Limited(ctx context.Context, ip, email string) bool
}

// ClientMeta describes the device a session is created from.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// AuthResult is returned by every flow that starts a session.
type AuthResult struct {
	User      *domain.User
	Tokens    domain.TokenPair
	SessionID string
}

const storeUnavailable = "Service temporarily unavailable. Please try again."

// dependencyErr passes AppErrors through and turns anything else into a
// DEPENDENCY_ERROR.
func dependencyErr(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Dependency(storeUnavailable, fmt.Errorf("%s: %w", op, err))
}
