package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-access-secret-access-secret"
	testRefreshSecret = "refresh-secret-refresh-secret-refresh-secret"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(IssuerConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		Issuer:        "authcore",
	})
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  IssuerConfig
	}{
		{"missing refresh secret", IssuerConfig{AccessSecret: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"same secrets", IssuerConfig{AccessSecret: "a", RefreshSecret: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"zero ttl", IssuerConfig{AccessSecret: "a", RefreshSecret: "b", RefreshTTL: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIssuer(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestIssue_ClaimsRoundTrip(t *testing.T) {
	iss := newTestIssuer(t)

	pair, err := iss.Issue("user-1", "sess-1", 3, 7)
	require.NoError(t, err)

	access, err := iss.Verify(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", access.UserID)
	assert.Equal(t, "sess-1", access.SessionID)
	assert.Equal(t, 3, access.Version)
	assert.Equal(t, TypeAccess, access.Type)
	assert.NotEmpty(t, access.ID)

	refresh, err := iss.Verify(pair.RefreshToken, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, 7, refresh.Version)
	assert.Equal(t, TypeRefresh, refresh.Type)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), refresh.ExpiresAt.Time, time.Minute)
}

func TestVerify_WrongType(t *testing.T) {
	iss := newTestIssuer(t)
	pair, err := iss.Issue("user-1", "sess-1", 0, 0)
	require.NoError(t, err)

	_, err = iss.Verify(pair.RefreshToken, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongType)

	_, err = iss.Verify(pair.AccessToken, TypeRefresh)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestVerify_Expired(t *testing.T) {
	iss := newTestIssuer(t)
	issuedAt := time.Now().Add(-time.Hour)
	iss.nowFunc = func() time.Time { return issuedAt }

	token, err := iss.IssueAccess("user-1", "sess-1", 0)
	require.NoError(t, err)

	iss.nowFunc = time.Now
	_, err = iss.Verify(token, TypeAccess)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_InvalidSignature(t *testing.T) {
	iss := newTestIssuer(t)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "user-1",
		Type:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "authcore",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("someone-elses-secret"))
	require.NoError(t, err)

	_, err = iss.Verify(foreign, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	iss := newTestIssuer(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := iss.Verify(token, TypeAccess)
		assert.ErrorIs(t, err, ErrInvalidSignature, "token %q", token)
	}
}

func TestVerify_RejectsAlgNone(t *testing.T) {
	iss := newTestIssuer(t)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: "user-1",
		Type:   TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "authcore",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Verify(unsigned, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TypeClaimMustMatch(t *testing.T) {
	iss := newTestIssuer(t)

	// Signed with the access key but claiming to be a refresh token.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "user-1",
		Type:   TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "authcore",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	_, err = iss.Verify(forged, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestIssue_DistinctJTI(t *testing.T) {
	iss := newTestIssuer(t)
	a, err := iss.IssueAccess("user-1", "sess-1", 0)
	require.NoError(t, err)
	b, err := iss.IssueAccess("user-1", "sess-1", 0)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 3, len(strings.Split(a, ".")))
}
