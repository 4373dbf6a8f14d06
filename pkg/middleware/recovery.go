package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httputil"
)

var panicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_handler_panics_total",
	Help: "Handler panics converted into 500 responses.",
}, []string{"route"})

// Recovery turns a handler panic into a 500 with the standard error body.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				route := routePattern(r)
				if route == "" {
					route = "unmatched"
				}
				panicsTotal.WithLabelValues(route).Inc()
				l.ErrorContext(r.Context(), "handler panic",
					slog.String("route", route),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())),
				)
				httputil.WriteError(w, r, apperrors.Internal(fmt.Errorf("panic: %v", v)), l)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
