package domain

import "time"

// Purpose tags a one-time token with the flow it belongs to.
type Purpose string

const (
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposePasswordReset || p == PurposeEmailVerification
}

// OneTimeToken is a single-use expiring secret, stored as a SHA-256 hash.
// At most one unused token exists per (UserID, Purpose).
type OneTimeToken struct {
	ID        string
	UserID    string
	Purpose   Purpose
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// Usable reports whether the token is unused and unexpired at now.
func (t *OneTimeToken) Usable(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// TokenPair is what login, registration and OAuth sign-in hand back.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
