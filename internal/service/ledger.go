package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/repository"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

// Ledger issues and redeems single-use tokens. One instance serves every
// purpose; only the TTL differs.
type Ledger struct {
	repo    repository.OneTimeTokenRepository
	ttls    map[domain.Purpose]time.Duration
	nowFunc func() time.Time
}

// NewLedger creates a ledger with a TTL per purpose.
func NewLedger(repo repository.OneTimeTokenRepository, ttls map[domain.Purpose]time.Duration) *Ledger {
	return &Ledger{repo: repo, ttls: ttls, nowFunc: time.Now}
}

// Issue retires the user's unused tokens for purpose and returns a fresh raw
// token. Only its hash is stored.
func (l *Ledger) Issue(ctx context.Context, userID string, purpose domain.Purpose) (string, error) {
	ttl, ok := l.ttls[purpose]
	if !ok || !purpose.Valid() {
		return "", fmt.Errorf("ledger: unknown purpose %q", purpose)
	}

	raw, err := auth.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	now := l.nowFunc().UTC()
	tok := &domain.OneTimeToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: auth.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := l.repo.Replace(ctx, tok); err != nil {
		return "", dependencyErr("store one-time token", err)
	}

	oneTimeTokensTotal.WithLabelValues(string(purpose), "issued").Inc()
	return raw, nil
}

// Validate checks raw without consuming it. Unknown, used and expired
// tokens all yield the same INVALID_TOKEN error.
func (l *Ledger) Validate(ctx context.Context, raw string, purpose domain.Purpose) (*domain.OneTimeToken, error) {
	tok, err := l.repo.FindValid(ctx, auth.HashToken(raw), purpose, l.nowFunc().UTC())
	return l.outcome(tok, err, purpose, "validated")
}

// Consume validates and marks raw used in one atomic step. Of any number of
// concurrent callers at most one succeeds.
func (l *Ledger) Consume(ctx context.Context, raw string, purpose domain.Purpose) (*domain.OneTimeToken, error) {
	tok, err := l.repo.Consume(ctx, auth.HashToken(raw), purpose, l.nowFunc().UTC())
	return l.outcome(tok, err, purpose, "consumed")
}

func (l *Ledger) outcome(tok *domain.OneTimeToken, err error, purpose domain.Purpose, success string) (*domain.OneTimeToken, error) {
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidToken) {
			oneTimeTokensTotal.WithLabelValues(string(purpose), "rejected").Inc()
			return nil, apperrors.InvalidToken()
		}
		return nil, dependencyErr("redeem one-time token", err)
	}
	oneTimeTokensTotal.WithLabelValues(string(purpose), success).Inc()
	return tok, nil
}

// Sweep deletes tokens that expired before now.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	return l.repo.DeleteExpired(ctx, l.nowFunc().UTC())
}
