// Package ratelimit implements the fixed-window counters that guard
// abuse-prone endpoints such as forgot-password.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRule is returned for rules with a non-positive limit or window.
var ErrInvalidRule = errors.New("ratelimit: rule needs positive max and window")

// Rule bounds one dimension: at most Max requests per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

func (r Rule) validate() error {
	if r.Max < 1 || r.Window <= 0 {
		return ErrInvalidRule
	}
	return nil
}

// Limiter is a keyed fixed-window counter. Hit records a request against key
// and reports whether it exceeded rule. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Hit(ctx context.Context, key string, rule Rule) (limited bool, err error)
}
