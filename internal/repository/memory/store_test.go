package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authcore/internal/domain"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *Store, id, email string) {
	t.Helper()
	require.NoError(t, s.Users().Create(context.Background(), &domain.User{
		ID: id, Name: "User " + id, Email: email, Provider: domain.ProviderLocal, CreatedAt: base, UpdatedAt: base,
	}))
}

func seedSession(t *testing.T, s *Store, id, userID string, lastActive time.Time) {
	t.Helper()
	require.NoError(t, s.Sessions().Create(context.Background(), &domain.Session{
		ID: id, UserID: userID, TokenHash: "hash-" + id, LastActive: lastActive, IsActive: true, CreatedAt: lastActive,
	}))
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1", "ada@example.com")

	err := s.Users().Create(context.Background(), &domain.User{ID: "u2", Email: "ada@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestUserRepository_UpdateGoogleIDUnique(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	seedUser(t, s, "u2", "bob@example.com")

	u1, err := s.Users().GetByID(ctx, "u1")
	require.NoError(t, err)
	u1.GoogleID = "g-1"
	require.NoError(t, s.Users().Update(ctx, u1))

	u2, err := s.Users().GetByID(ctx, "u2")
	require.NoError(t, err)
	u2.GoogleID = "g-1"
	assert.ErrorIs(t, s.Users().Update(ctx, u2), apperrors.ErrAlreadyExists)

	// Unlinking frees the id.
	u1.GoogleID = ""
	require.NoError(t, s.Users().Update(ctx, u1))
	require.NoError(t, s.Users().Update(ctx, u2))

	got, err := s.Users().GetByGoogleID(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1", "ada@example.com")

	u, err := s.Users().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	u.TokenVersion = 99

	again, err := s.Users().GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.TokenVersion)
}

func TestUserRepository_BumpAndSetPassword(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "u1", "ada@example.com")
	ctx := context.Background()

	u, err := s.Users().BumpVersions(ctx, "u1", domain.VersionBump{Access: true})
	require.NoError(t, err)
	assert.Equal(t, 1, u.TokenVersion)
	assert.Equal(t, 0, u.RefreshTokenVersion)

	u, err = s.Users().SetPassword(ctx, "u1", "new-hash", domain.VersionBump{Access: true, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.PasswordHash)
	assert.Equal(t, 2, u.TokenVersion)
	assert.Equal(t, 1, u.RefreshTokenVersion)

	_, err = s.Users().BumpVersions(ctx, "missing", domain.VersionBump{Access: true})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserRepository_DeleteCascades(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	seedUser(t, s, "u2", "bob@example.com")
	seedSession(t, s, "s1", "u1", base)
	seedSession(t, s, "s2", "u2", base)
	require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID: "t1", UserID: "u1", Purpose: domain.PurposePasswordReset, TokenHash: "th", CreatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	require.NoError(t, s.Users().Delete(ctx, "u1"))

	_, err := s.Sessions().Touch(ctx, "hash-s1", base, base.Add(-time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.Tokens().FindValid(ctx, "th", domain.PurposePasswordReset, base)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	others, err := s.Sessions().ListActive(ctx, "u2", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestSessionRepository_TouchSkipsIdleAndRevoked(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	seedSession(t, s, "fresh", "u1", base)
	seedSession(t, s, "stale", "u1", base.Add(-31*24*time.Hour))
	seedSession(t, s, "revoked", "u1", base)
	require.NoError(t, s.Sessions().Revoke(ctx, "revoked", "u1"))

	since := base.Add(-30 * 24 * time.Hour)
	now := base.Add(time.Minute)

	got, err := s.Sessions().Touch(ctx, "hash-fresh", now, since)
	require.NoError(t, err)
	assert.Equal(t, now, got.LastActive)

	_, err = s.Sessions().Touch(ctx, "hash-stale", now, since)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.Sessions().Touch(ctx, "hash-revoked", now, since)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSessionRepository_RevokeOwnership(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	seedUser(t, s, "u2", "bob@example.com")
	seedSession(t, s, "s1", "u1", base)

	assert.ErrorIs(t, s.Sessions().Revoke(ctx, "s1", "u2"), apperrors.ErrNotFound)
	require.NoError(t, s.Sessions().Revoke(ctx, "s1", "u1"))
	assert.ErrorIs(t, s.Sessions().Revoke(ctx, "s1", "u1"), apperrors.ErrNotFound, "already revoked")
}

func TestSessionRepository_ListAndRevokeAll(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	seedSession(t, s, "old", "u1", base.Add(-2*time.Hour))
	seedSession(t, s, "new", "u1", base)
	seedSession(t, s, "mid", "u1", base.Add(-time.Hour))

	list, err := s.Sessions().ListActive(ctx, "u1", base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{list[0].ID, list[1].ID, list[2].ID})

	n, err := s.Sessions().RevokeAllExcept(ctx, "u1", "new")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Sessions().RevokeAll(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err = s.Sessions().ListActive(ctx, "u1", base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSessionRepository_DeleteIdle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	seedSession(t, s, "fresh", "u1", base)
	seedSession(t, s, "stale", "u1", base.Add(-40*24*time.Hour))
	seedSession(t, s, "revoked", "u1", base)
	require.NoError(t, s.Sessions().Revoke(ctx, "revoked", "u1"))

	n, err := s.Sessions().DeleteIdle(ctx, base.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTokenRepository_ReplaceKeepsOneUnused(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
			ID: fmt.Sprintf("t%d", i), UserID: "u1", Purpose: domain.PurposePasswordReset,
			TokenHash: fmt.Sprintf("h%d", i), CreatedAt: base, ExpiresAt: base.Add(10 * time.Minute),
		}))
	}

	_, err := s.Tokens().FindValid(ctx, "h1", domain.PurposePasswordReset, base)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	_, err = s.Tokens().FindValid(ctx, "h3", domain.PurposePasswordReset, base)
	assert.NoError(t, err)

	// A token for another purpose is independent.
	require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID: "v1", UserID: "u1", Purpose: domain.PurposeEmailVerification,
		TokenHash: "v", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour),
	}))
	_, err = s.Tokens().FindValid(ctx, "h3", domain.PurposePasswordReset, base)
	assert.NoError(t, err)
}

func TestTokenRepository_ConsumeRules(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID: "t1", UserID: "u1", Purpose: domain.PurposePasswordReset,
		TokenHash: "h1", CreatedAt: base, ExpiresAt: base.Add(10 * time.Minute),
	}))

	_, err := s.Tokens().Consume(ctx, "h1", domain.PurposeEmailVerification, base)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken, "wrong purpose")

	_, err = s.Tokens().Consume(ctx, "h1", domain.PurposePasswordReset, base.Add(10*time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken, "expired at the boundary")

	tok, err := s.Tokens().Consume(ctx, "h1", domain.PurposePasswordReset, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", tok.UserID)
	require.NotNil(t, tok.UsedAt)

	_, err = s.Tokens().Consume(ctx, "h1", domain.PurposePasswordReset, base.Add(2*time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken, "second use")
}

func TestTokenRepository_ConcurrentConsumeHasOneWinner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID: "t1", UserID: "u1", Purpose: domain.PurposePasswordReset,
		TokenHash: "h1", CreatedAt: base, ExpiresAt: base.Add(10 * time.Minute),
	}))

	const workers = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Tokens().Consume(ctx, "h1", domain.PurposePasswordReset, base); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "u1", "ada@example.com")
	require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID: "old", UserID: "u1", Purpose: domain.PurposePasswordReset,
		TokenHash: "h-old", CreatedAt: base.Add(-2 * time.Hour), ExpiresAt: base.Add(-time.Hour),
	}))
	require.NoError(t, s.Tokens().Replace(ctx, &domain.OneTimeToken{
		ID: "live", UserID: "u1", Purpose: domain.PurposeEmailVerification,
		TokenHash: "h-live", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour),
	}))

	n, err := s.Tokens().DeleteExpired(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
