package service

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/repository"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

// SessionRegistry tracks one session per login per device. Sessions idle
// for longer than the TTL are treated as inactive on every read and purged
// by Sweep.
type SessionRegistry struct {
	repo    repository.SessionRepository
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewSessionRegistry creates a registry with the given inactivity TTL.
func NewSessionRegistry(repo repository.SessionRepository, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{repo: repo, ttl: ttl, nowFunc: time.Now}
}

// Create stores a session for refreshToken, keyed by its SHA-256.
func (r *SessionRegistry) Create(ctx context.Context, sessionID, userID, refreshToken string, meta ClientMeta) (*domain.Session, error) {
	now := r.nowFunc().UTC()
	s := &domain.Session{
		ID:         sessionID,
		UserID:     userID,
		TokenHash:  auth.HashToken(refreshToken),
		DeviceInfo: domain.ParseUserAgent(meta.UserAgent),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		LastActive: now,
		IsActive:   true,
		CreatedAt:  now,
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return nil, dependencyErr("create session", err)
	}
	return s, nil
}

// Validate finds the live session for refreshToken and bumps its last
// activity. The active check and the bump are one store operation, so a
// concurrent revoke makes this fail.
func (r *SessionRegistry) Validate(ctx context.Context, refreshToken string) (*domain.Session, error) {
	now := r.nowFunc().UTC()
	s, err := r.repo.Touch(ctx, auth.HashToken(refreshToken), now, now.Add(-r.ttl))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("Session expired or invalid")
		}
		return nil, dependencyErr("validate session", err)
	}
	return s, nil
}

// ListActive returns the user's live sessions, most recently active first.
func (r *SessionRegistry) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := r.repo.ListActive(ctx, userID, r.nowFunc().UTC().Add(-r.ttl))
	if err != nil {
		return nil, dependencyErr("list sessions", err)
	}
	return sessions, nil
}

// Revoke deactivates one of the user's sessions.
func (r *SessionRegistry) Revoke(ctx context.Context, userID, sessionID string) error {
	if err := r.repo.Revoke(ctx, sessionID, userID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("session", sessionID)
		}
		return dependencyErr("revoke session", err)
	}
	sessionsRevokedTotal.WithLabelValues("one").Inc()
	return nil
}

// RevokeAll deactivates every session of the user.
func (r *SessionRegistry) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := r.repo.RevokeAll(ctx, userID)
	if err != nil {
		return 0, dependencyErr("revoke sessions", err)
	}
	sessionsRevokedTotal.WithLabelValues("all").Add(float64(n))
	return n, nil
}

// RevokeAllExcept deactivates every session of the user but keepID.
func (r *SessionRegistry) RevokeAllExcept(ctx context.Context, userID, keepID string) (int64, error) {
	n, err := r.repo.RevokeAllExcept(ctx, userID, keepID)
	if err != nil {
		return 0, dependencyErr("revoke other sessions", err)
	}
	sessionsRevokedTotal.WithLabelValues("others").Add(float64(n))
	return n, nil
}

// Sweep purges revoked sessions and sessions idle beyond the TTL.
func (r *SessionRegistry) Sweep(ctx context.Context) (int64, error) {
	return r.repo.DeleteIdle(ctx, r.nowFunc().UTC().Add(-r.ttl))
}
