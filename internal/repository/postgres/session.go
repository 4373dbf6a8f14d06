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

const sessionColumns = `id, user_id, token_hash, browser, os, device, ip_address, user_agent,
	last_active, is_active, created_at`

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db database.DBTX
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, browser, os, device, ip_address, user_agent,
		                      last_active, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.TokenHash,
		s.DeviceInfo.Browser,
		s.DeviceInfo.OS,
		s.DeviceInfo.Device,
		s.IPAddress,
		s.UserAgent,
		s.LastActive,
		s.IsActive,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Touch bumps last_active on the live session owning tokenHash.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, now, activeSince time.Time) (_ *domain.Session, err error) {
	query := `
		UPDATE sessions
		SET last_active = $2
		WHERE token_hash = $1 AND is_active = true AND last_active > $3
		RETURNING ` + sessionColumns

	ctx, end := database.TraceQuery(ctx, "TouchSession", query)
	defer func() { end(err) }()

	var s domain.Session
	if err = scanSession(r.db.QueryRow(ctx, query, tokenHash, now, activeSince), &s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}

	return &s, nil
}

// Revoke deactivates a single session owned by userID.
func (r *SessionRepository) Revoke(ctx context.Context, id, userID string) error {
	query := `UPDATE sessions SET is_active = false WHERE id = $1 AND user_id = $2 AND is_active = true`

	ct, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("session", id)
	}

	return nil
}

// RevokeAll deactivates every active session of the user.
func (r *SessionRepository) RevokeAll(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE sessions SET is_active = false WHERE user_id = $1 AND is_active = true`

	ct, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}

	return ct.RowsAffected(), nil
}

// RevokeAllExcept deactivates every active session of the user but one.
func (r *SessionRepository) RevokeAllExcept(ctx context.Context, userID, exceptID string) (int64, error) {
	query := `UPDATE sessions SET is_active = false WHERE user_id = $1 AND id <> $2 AND is_active = true`

	ct, err := r.db.Exec(ctx, query, userID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("revoke other sessions: %w", err)
	}

	return ct.RowsAffected(), nil
}

// ListActive returns the user's live sessions, most recently active first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string, activeSince time.Time) ([]domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active = true AND last_active > $2
		ORDER BY last_active DESC`

	rows, err := r.db.Query(ctx, query, userID, activeSince)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		var s domain.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return sessions, nil
}

// DeleteIdle purges revoked sessions and sessions idle since before the cutoff.
func (r *SessionRepository) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE is_active = false OR last_active < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanSession(row pgx.Row, s *domain.Session) error {
	return row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.DeviceInfo.Browser,
		&s.DeviceInfo.OS,
		&s.DeviceInfo.Device,
		&s.IPAddress,
		&s.UserAgent,
		&s.LastActive,
		&s.IsActive,
		&s.CreatedAt,
	)
}
