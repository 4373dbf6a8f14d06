package repository

import (
	"context"
	"time"

	"github.com/utafrali/authcore/internal/domain"
)

// UserRepository persists principals and their credential versions.
type UserRepository interface {
	// Create inserts a new user. A taken email yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail expects an address already passed through domain.NormalizeEmail.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	GetByGoogleID(ctx context.Context, googleID string) (*domain.User, error)

	// Update writes profile fields (name, avatar, provider, google id).
	// Versions and password hash are only changed through the dedicated methods.
	Update(ctx context.Context, user *domain.User) error

	// BumpVersions atomically increments the selected counters and returns
	// the updated user.
	BumpVersions(ctx context.Context, id string, bump domain.VersionBump) (*domain.User, error)

	// SetPassword stores a new hash and bumps the selected counters in the
	// same statement.
	SetPassword(ctx context.Context, id, passwordHash string, bump domain.VersionBump) (*domain.User, error)

	MarkEmailVerified(ctx context.Context, id string, at time.Time) error

	// Delete removes the user together with their sessions and one-time tokens.
	Delete(ctx context.Context, id string) error
}

// SessionRepository is the Session Registry's store.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error

	// Touch finds the active session owning tokenHash whose last activity is
	// after activeSince, sets LastActive to now and returns it. Revoked or
	// idle sessions yield apperrors.ErrNotFound.
	Touch(ctx context.Context, tokenHash string, now, activeSince time.Time) (*domain.Session, error)

	// Revoke deactivates one session owned by userID. A session owned by
	// another user is reported as apperrors.ErrNotFound.
	Revoke(ctx context.Context, id, userID string) error

	// RevokeAll deactivates every session of the user and returns how many
	// were active.
	RevokeAll(ctx context.Context, userID string) (int64, error)

	// RevokeAllExcept deactivates every session of the user but exceptID.
	RevokeAllExcept(ctx context.Context, userID, exceptID string) (int64, error)

	// ListActive returns active sessions used after activeSince, most
	// recently active first.
	ListActive(ctx context.Context, userID string, activeSince time.Time) ([]domain.Session, error)

	// DeleteIdle purges sessions that are revoked or were last used before
	// the cutoff.
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}

// OneTimeTokenRepository is the One-Time Token Ledger's store.
type OneTimeTokenRepository interface {
	// Replace marks any unused token of the same (user, purpose) as used and
	// inserts tok, so at most one unused token exists per pair.
	Replace(ctx context.Context, tok *domain.OneTimeToken) error

	// Consume marks the unused, unexpired token with the given hash and
	// purpose as used and returns it. Concurrent callers race on a single
	// conditional update: exactly one wins, the rest get
	// apperrors.ErrInvalidToken.
	Consume(ctx context.Context, tokenHash string, purpose domain.Purpose, now time.Time) (*domain.OneTimeToken, error)

	// FindValid returns the unused, unexpired token without consuming it.
	FindValid(ctx context.Context, tokenHash string, purpose domain.Purpose, now time.Time) (*domain.OneTimeToken, error)

	// DeleteExpired purges tokens that expired or were used before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
