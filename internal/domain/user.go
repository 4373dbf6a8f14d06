package domain

import (
	"strings"
	"time"
)

// Identity providers a principal can sign in with.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User is the principal: the owner of credentials, sessions and one-time
// tokens. TokenVersion and RefreshTokenVersion only ever grow; bumping one
// invalidates every access or refresh token issued with an older value.
type User struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Avatar              string     `json:"avatar,omitempty"`
	Provider            string     `json:"provider"`
	GoogleID            string     `json:"-"`
	EmailVerified       bool       `json:"emailVerified"`
	EmailVerifiedAt     *time.Time `json:"emailVerifiedAt,omitempty"`
	TokenVersion        int        `json:"-"`
	RefreshTokenVersion int        `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// HasPassword reports whether the user can sign in with a password.
// OAuth-only principals have none until they set one.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// VersionBump selects which version counters to increment.
type VersionBump struct {
	Access  bool
	Refresh bool
}

// NormalizeEmail lowercases and trims an address so lookups and rate-limit
// keys agree on one spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
