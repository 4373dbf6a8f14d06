package ratelimit

import (
	"context"
	"log/slog"

	"github.com/utafrali/authcore/pkg/logger"
)

// Guard applies an IP rule and an email rule to one endpoint. The IP is
// checked first; a request limited by IP does not count against the email.
type Guard struct {
	limiter Limiter
	scope   string
	byIP    Rule
	byEmail Rule
	logger  *slog.Logger
}

// NewGuard creates a guard whose keys are namespaced by scope.
func NewGuard(limiter Limiter, scope string, byIP, byEmail Rule, logger *slog.Logger) *Guard {
	return &Guard{
		limiter: limiter,
		scope:   scope,
		byIP:    byIP,
		byEmail: byEmail,
		logger:  logger,
	}
}

// Limited reports whether the request should be suppressed. Limiter
// failures are logged and treated as not limited.
func (g *Guard) Limited(ctx context.Context, ip, email string) bool {
	if ip != "" && g.hit(ctx, "ip", ip, g.byIP) {
		g.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("scope", g.scope),
			slog.String("dimension", "ip"),
			slog.String("ip", ip),
		)
		return true
	}
	if email != "" && g.hit(ctx, "email", email, g.byEmail) {
		g.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("scope", g.scope),
			slog.String("dimension", "email"),
			slog.String("email", logger.MaskEmail(email)),
		)
		return true
	}
	return false
}

func (g *Guard) hit(ctx context.Context, dimension, value string, rule Rule) bool {
	limited, err := g.limiter.Hit(ctx, g.scope+":"+dimension+":"+value, rule)
	if err != nil {
		g.logger.ErrorContext(ctx, "rate limiter unavailable, allowing request",
			slog.String("scope", g.scope),
			slog.String("dimension", dimension),
			slog.String("error", err.Error()),
		)
		return false
	}
	return limited
}
