package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/authcore/pkg/logger"
)

// RequestLogger makes base the request-scoped logger returned by
// logger.FromContext. Identity fields are added per record by the handler
// logger.New installs, so the same logger serves every request.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.NewContext(r.Context(), base)))
		})
	}
}
