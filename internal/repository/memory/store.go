// Package memory provides in-process implementations of the repository
// interfaces. They back STORE_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/repository"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

var (
	_ repository.UserRepository         = (*UserRepository)(nil)
	_ repository.SessionRepository      = (*SessionRepository)(nil)
	_ repository.OneTimeTokenRepository = (*OneTimeTokenRepository)(nil)
)

// Store holds users, sessions and one-time tokens behind one lock so that
// deleting a user cascades atomically.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	sessions map[string]*domain.Session
	tokens   map[string]*domain.OneTimeToken
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*domain.Session),
		tokens:   make(map[string]*domain.OneTimeToken),
	}
}

// Users returns the store's repository.UserRepository view.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Sessions returns the store's repository.SessionRepository view.
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

// Tokens returns the store's repository.OneTimeTokenRepository view.
func (s *Store) Tokens() *OneTimeTokenRepository { return &OneTimeTokenRepository{s: s} }

// --- Users ---

// UserRepository is the in-memory repository.UserRepository.
type UserRepository struct{ s *Store }

func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[u.ID]; ok {
		return apperrors.AlreadyExists("user", "id", u.ID)
	}
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		if u.GoogleID != "" && existing.GoogleID == u.GoogleID {
			return apperrors.AlreadyExists("user", "google_id", u.GoogleID)
		}
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email })
}

func (r *UserRepository) GetByGoogleID(_ context.Context, googleID string) (*domain.User, error) {
	if googleID == "" {
		return nil, apperrors.ErrNotFound
	}
	return r.find(func(u *domain.User) bool { return u.GoogleID == googleID })
}

func (r *UserRepository) find(match func(*domain.User) bool) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *UserRepository) Update(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.users[u.ID]
	if !ok {
		return apperrors.NotFound("user", u.ID)
	}
	if u.GoogleID != "" {
		for id, other := range r.s.users {
			if id != u.ID && other.GoogleID == u.GoogleID {
				return apperrors.AlreadyExists("user", "google account", u.GoogleID)
			}
		}
	}
	u.UpdatedAt = time.Now().UTC()
	existing.Name = u.Name
	existing.Avatar = u.Avatar
	existing.Provider = u.Provider
	existing.GoogleID = u.GoogleID
	existing.UpdatedAt = u.UpdatedAt
	return nil
}

func (r *UserRepository) BumpVersions(_ context.Context, id string, bump domain.VersionBump) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) { applyBump(u, bump) })
}

func (r *UserRepository) SetPassword(_ context.Context, id, passwordHash string, bump domain.VersionBump) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) {
		u.PasswordHash = passwordHash
		applyBump(u, bump)
	})
}

func (r *UserRepository) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	_, err := r.mutate(id, func(u *domain.User) {
		u.EmailVerified = true
		verifiedAt := at
		u.EmailVerifiedAt = &verifiedAt
	})
	return err
}

func (r *UserRepository) mutate(id string, fn func(*domain.User)) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

// Delete removes the user and cascades to sessions and tokens.
func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return apperrors.NotFound("user", id)
	}
	delete(r.s.users, id)
	for sid, sess := range r.s.sessions {
		if sess.UserID == id {
			delete(r.s.sessions, sid)
		}
	}
	for tid, tok := range r.s.tokens {
		if tok.UserID == id {
			delete(r.s.tokens, tid)
		}
	}
	return nil
}

func applyBump(u *domain.User, b domain.VersionBump) {
	if b.Access {
		u.TokenVersion++
	}
	if b.Refresh {
		u.RefreshTokenVersion++
	}
}

// --- Sessions ---

// SessionRepository is the in-memory repository.SessionRepository.
type SessionRepository struct{ s *Store }

func (r *SessionRepository) Create(_ context.Context, sess *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[sess.UserID]; !ok {
		return apperrors.NotFound("user", sess.UserID)
	}
	cp := *sess
	r.s.sessions[sess.ID] = &cp
	return nil
}

func (r *SessionRepository) Touch(_ context.Context, tokenHash string, now, activeSince time.Time) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.TokenHash != tokenHash {
			continue
		}
		if !sess.IsActive || !sess.LastActive.After(activeSince) {
			return nil, apperrors.ErrNotFound
		}
		sess.LastActive = now
		cp := *sess
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *SessionRepository) Revoke(_ context.Context, id, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok || sess.UserID != userID || !sess.IsActive {
		return apperrors.NotFound("session", id)
	}
	sess.IsActive = false
	return nil
}

func (r *SessionRepository) RevokeAll(_ context.Context, userID string) (int64, error) {
	return r.revokeWhere(userID, ""), nil
}

func (r *SessionRepository) RevokeAllExcept(_ context.Context, userID, exceptID string) (int64, error) {
	return r.revokeWhere(userID, exceptID), nil
}

func (r *SessionRepository) revokeWhere(userID, exceptID string) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.UserID == userID && sess.IsActive && id != exceptID {
			sess.IsActive = false
			n++
		}
	}
	return n
}

func (r *SessionRepository) ListActive(_ context.Context, userID string, activeSince time.Time) ([]domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []domain.Session{}
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.IsActive && sess.LastActive.After(activeSince) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

func (r *SessionRepository) DeleteIdle(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if !sess.IsActive || sess.LastActive.Before(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- One-time tokens ---

// OneTimeTokenRepository is the in-memory repository.OneTimeTokenRepository.
type OneTimeTokenRepository struct{ s *Store }

func (r *OneTimeTokenRepository) Replace(_ context.Context, tok *domain.OneTimeToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[tok.UserID]; !ok {
		return apperrors.NotFound("user", tok.UserID)
	}
	for _, existing := range r.s.tokens {
		if existing.UserID == tok.UserID && existing.Purpose == tok.Purpose && !existing.Used {
			existing.Used = true
			usedAt := tok.CreatedAt
			existing.UsedAt = &usedAt
		}
	}
	cp := *tok
	cp.Used = false
	cp.UsedAt = nil
	r.s.tokens[tok.ID] = &cp
	return nil
}

func (r *OneTimeTokenRepository) Consume(_ context.Context, tokenHash string, purpose domain.Purpose, now time.Time) (*domain.OneTimeToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tok := r.lookup(tokenHash, purpose, now)
	if tok == nil {
		return nil, apperrors.ErrInvalidToken
	}
	tok.Used = true
	usedAt := now
	tok.UsedAt = &usedAt
	cp := *tok
	return &cp, nil
}

func (r *OneTimeTokenRepository) FindValid(_ context.Context, tokenHash string, purpose domain.Purpose, now time.Time) (*domain.OneTimeToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tok := r.lookup(tokenHash, purpose, now)
	if tok == nil {
		return nil, apperrors.ErrInvalidToken
	}
	cp := *tok
	return &cp, nil
}

// lookup must be called with the lock held.
func (r *OneTimeTokenRepository) lookup(tokenHash string, purpose domain.Purpose, now time.Time) *domain.OneTimeToken {
	for _, tok := range r.s.tokens {
		if tok.TokenHash == tokenHash && tok.Purpose == purpose && tok.Usable(now) {
			return tok
		}
	}
	return nil
}

func (r *OneTimeTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, tok := range r.s.tokens {
		if tok.ExpiresAt.Before(before) || (tok.Used && tok.UsedAt != nil && tok.UsedAt.Before(before)) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}
