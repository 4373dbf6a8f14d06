package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// backoff is an exponential schedule with symmetric jitter.
type backoff struct {
	attempts int
	base     time.Duration
	jitter   float64
}

// startupBackoff waits roughly 1s then 2s between three attempts.
var startupBackoff = backoff{attempts: 3, base: time.Second, jitter: 0.25}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base << max(attempt, 0)
	spread := float64(d) * b.jitter
	return d + time.Duration(spread*(2*rand.Float64()-1)) // #nosec G404 -- jitter only
}

// transientMarkers match driver errors that do not wrap a typed cause.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"server closed the connection unexpectedly",
	"could not connect",
}

// isConnectionError separates "the database went away" from "the database
// rejected the statement". Only the former is worth retrying.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var (
		pgErr   *pgconn.PgError
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &pgErr):
		return false
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return strings.HasSuffix(msg, "eof")
}

// retry runs fn on the startup schedule. A nil retryable treats every error
// as transient. logger may be nil.
func retry(ctx context.Context, logger *slog.Logger, op string, retryable func(error) bool, fn func() error) error {
	b := startupBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == b.attempts {
			return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempt, err)
		}

		wait := b.delay(attempt - 1)
		if logger != nil {
			logger.WarnContext(ctx, op+" failed",
				slog.Int("attempt", attempt),
				slog.Duration("next_in", wait),
				slog.String("error", err.Error()),
			)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), err)
		case <-t.C:
		}
	}
}
