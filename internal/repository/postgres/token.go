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

const tokenColumns = `id, user_id, purpose, token_hash, created_at, expires_at, used, used_at`

// replaceAttempts bounds retries when two issuers race on the partial unique
// index over unused (user_id, purpose) pairs.
const replaceAttempts = 3

// OneTimeTokenRepository implements repository.OneTimeTokenRepository using PostgreSQL.
type OneTimeTokenRepository struct {
	db database.DBTX
}

// NewOneTimeTokenRepository creates a new PostgreSQL-backed token ledger.
func NewOneTimeTokenRepository(db database.DBTX) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

// Replace retires any unused token for the same user and purpose and
// inserts tok in one transaction.
func (r *OneTimeTokenRepository) Replace(ctx context.Context, tok *domain.OneTimeToken) error {
	var err error
	for attempt := 0; attempt < replaceAttempts; attempt++ {
		err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`UPDATE one_time_tokens SET used = true, used_at = $3 WHERE user_id = $1 AND purpose = $2 AND used = false`,
				tok.UserID, string(tok.Purpose), tok.CreatedAt,
			); err != nil {
				return fmt.Errorf("retire unused tokens: %w", err)
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO one_time_tokens (id, user_id, purpose, token_hash, created_at, expires_at, used)
				VALUES ($1, $2, $3, $4, $5, $6, false)`,
				tok.ID, tok.UserID, string(tok.Purpose), tok.TokenHash, tok.CreatedAt, tok.ExpiresAt,
			)
			if err != nil {
				return fmt.Errorf("insert token: %w", err)
			}
			return nil
		})
		if err == nil || !database.IsUniqueViolation(err) {
			return err
		}
	}
	return err
}

// Consume marks the matching live token used in a single conditional
// update, so concurrent callers cannot both succeed.
func (r *OneTimeTokenRepository) Consume(ctx context.Context, tokenHash string, purpose domain.Purpose, now time.Time) (_ *domain.OneTimeToken, err error) {
	query := `
		UPDATE one_time_tokens
		SET used = true, used_at = $3
		WHERE token_hash = $1 AND purpose = $2 AND used = false AND expires_at > $3
		RETURNING ` + tokenColumns

	ctx, end := database.TraceQuery(ctx, "ConsumeOneTimeToken", query)
	defer func() { end(err) }()

	tok, err := scanToken(r.db.QueryRow(ctx, query, tokenHash, string(purpose), now))
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return tok, nil
}

// FindValid returns the matching live token without consuming it.
func (r *OneTimeTokenRepository) FindValid(ctx context.Context, tokenHash string, purpose domain.Purpose, now time.Time) (*domain.OneTimeToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM one_time_tokens
		WHERE token_hash = $1 AND purpose = $2 AND used = false AND expires_at > $3`

	tok, err := scanToken(r.db.QueryRow(ctx, query, tokenHash, string(purpose), now))
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	return tok, nil
}

// DeleteExpired purges tokens that expired or were used before the cutoff.
func (r *OneTimeTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx,
		`DELETE FROM one_time_tokens WHERE expires_at < $1 OR (used = true AND used_at < $1)`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*domain.OneTimeToken, error) {
	var t domain.OneTimeToken
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Purpose,
		&t.TokenHash,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.Used,
		&t.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrInvalidToken
		}
		return nil, err
	}
	return &t, nil
}
