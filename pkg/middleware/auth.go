package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httputil"
	"github.com/utafrali/authcore/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID       string
	SessionID    string
	Email        string
	TokenVersion int
}

// Authenticator verifies a bearer token and returns the principal it belongs
// to. Returning an error wrapping apperrors.ErrSessionInvalidated produces the
// SESSION_INVALIDATED response; any other auth failure produces UNAUTHORIZED.
type Authenticator func(ctx context.Context, token string) (*Principal, error)

// Auth middleware validates bearer tokens and injects the principal into context.
func Auth(authenticate Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, r, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				writeAuthError(w, r, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			principal, err := authenticate(r.Context(), parts[1])
			if err != nil {
				switch {
				case errors.Is(err, apperrors.ErrSessionInvalidated):
					writeAuthError(w, r, apperrors.SessionInvalidated())
				case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrNotFound):
					writeAuthError(w, r, apperrors.Unauthorized("invalid or expired token"))
				default:
					httputil.WriteError(w, r, err, nil)
				}
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			ctx = logger.WithUserID(ctx, principal.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the principal attached by Auth, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}

// SessionIDFromContext extracts the caller's session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.SessionID
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, r *http.Request, appErr *apperrors.AppError) {
	httputil.WriteJSON(w, appErr.Status, httputil.ErrorResponse{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	})
}
