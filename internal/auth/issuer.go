package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/utafrali/authcore/internal/domain"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Verification failures.
var (
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongType        = errors.New("wrong token type")
)

// Claims are carried by both token types. Version is the tokenVersion for
// access tokens and the refreshTokenVersion for refresh tokens.
type Claims struct {
	UserID    string    `json:"uid"`
	Type      TokenType `json:"typ"`
	Version   int       `json:"ver"`
	SessionID string    `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Issuer signs and verifies HS256 tokens. Access and refresh tokens use
// different keys, so one can never pass for the other.
type Issuer struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	nowFunc    func() time.Time
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	return &Issuer{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		nowFunc:    time.Now,
	}, nil
}

// Issue mints an access/refresh pair for a user. Both tokens carry sessionID.
func (i *Issuer) Issue(userID, sessionID string, tokenVersion, refreshTokenVersion int) (domain.TokenPair, error) {
	access, err := i.IssueAccess(userID, sessionID, tokenVersion)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := i.sign(TypeRefresh, userID, sessionID, refreshTokenVersion)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess mints a single access token.
func (i *Issuer) IssueAccess(userID, sessionID string, tokenVersion int) (string, error) {
	return i.sign(TypeAccess, userID, sessionID, tokenVersion)
}

func (i *Issuer) sign(typ TokenType, userID, sessionID string, version int) (string, error) {
	now := i.nowFunc().UTC()
	claims := &Claims{
		UserID:    userID,
		Type:      typ,
		Version:   version,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl(typ))),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key(typ))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// Verify checks a token's signature, expiry and type. It fails with
// ErrInvalidSignature, ErrExpired or ErrWrongType.
func (i *Issuer) Verify(token string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, i.keyFunc(expected), i.parserOptions()...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if i.signedWith(token, other(expected)) {
			return nil, ErrWrongType
		}
		return nil, ErrInvalidSignature
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.Type != expected {
		return nil, ErrWrongType
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidSignature)
	}
	return claims, nil
}

// signedWith reports whether token carries a valid signature for typ's key,
// ignoring expiry.
func (i *Issuer) signedWith(token string, typ TokenType) bool {
	_, err := jwt.ParseWithClaims(token, &Claims{}, i.keyFunc(typ),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return err == nil
}

func (i *Issuer) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.nowFunc),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	return opts
}

func (i *Issuer) keyFunc(typ TokenType) jwt.Keyfunc {
	key := i.key(typ)
	return func(*jwt.Token) (any, error) { return key, nil }
}

func (i *Issuer) key(typ TokenType) []byte {
	if typ == TypeRefresh {
		return i.refreshKey
	}
	return i.accessKey
}

func (i *Issuer) ttl(typ TokenType) time.Duration {
	if typ == TypeRefresh {
		return i.refreshTTL
	}
	return i.accessTTL
}

// AccessTTL returns the configured access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

func other(typ TokenType) TokenType {
	if typ == TypeRefresh {
		return TypeAccess
	}
	return TypeRefresh
}
