package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/pkg/database"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

const userColumns = `id, name, email, password_hash, avatar, provider, COALESCE(google_id, ''),
	email_verified, email_verified_at, token_version, refresh_token_version, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, avatar, provider, google_id, email_verified,
		                   email_verified_at, token_version, refresh_token_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Name,
		u.Email,
		u.PasswordHash,
		u.Avatar,
		u.Provider,
		u.GoogleID,
		u.EmailVerified,
		u.EmailVerifiedAt,
		u.TokenVersion,
		u.RefreshTokenVersion,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by their normalized email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByGoogleID retrieves a user linked to the given Google subject.
func (r *UserRepository) GetByGoogleID(ctx context.Context, googleID string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

// Update modifies the profile fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET name = $1, avatar = $2, provider = $3, google_id = NULLIF($4, ''), updated_at = $5
		WHERE id = $6`

	ct, err := r.db.Exec(ctx, query,
		u.Name,
		u.Avatar,
		u.Provider,
		u.GoogleID,
		u.UpdatedAt,
		u.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "google account", u.GoogleID)
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// BumpVersions increments the selected version counters in one statement.
func (r *UserRepository) BumpVersions(ctx context.Context, id string, bump domain.VersionBump) (*domain.User, error) {
	access, refresh := bumpDeltas(bump)
	query := `
		UPDATE users
		SET token_version = token_version + $2,
		    refresh_token_version = refresh_token_version + $3,
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + userColumns

	return r.scanUser(ctx, query, id, access, refresh, time.Now().UTC())
}

// SetPassword stores a new password hash and bumps the selected counters.
func (r *UserRepository) SetPassword(ctx context.Context, id, passwordHash string, bump domain.VersionBump) (*domain.User, error) {
	access, refresh := bumpDeltas(bump)
	query := `
		UPDATE users
		SET password_hash = $2,
		    token_version = token_version + $3,
		    refresh_token_version = refresh_token_version + $4,
		    updated_at = $5
		WHERE id = $1
		RETURNING ` + userColumns

	return r.scanUser(ctx, query, id, passwordHash, access, refresh, time.Now().UTC())
}

// MarkEmailVerified flags the user's email as verified at the given time.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE users
		SET email_verified = true, email_verified_at = $2, updated_at = $2
		WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// Delete removes a user. Sessions and one-time tokens go with it through
// ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}

	return nil
}

// scanUser executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Avatar,
		&u.Provider,
		&u.GoogleID,
		&u.EmailVerified,
		&u.EmailVerifiedAt,
		&u.TokenVersion,
		&u.RefreshTokenVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}

func bumpDeltas(b domain.VersionBump) (access, refresh int) {
	if b.Access {
		access = 1
	}
	if b.Refresh {
		refresh = 1
	}
	return access, refresh
}
