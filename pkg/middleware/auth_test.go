package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httputil"
)

func staticAuthenticator(p *Principal, err error) Authenticator {
	return func(_ context.Context, _ string) (*Principal, error) {
		return p, err
	}
}

func serveAuth(t *testing.T, authn Authenticator, header string) (*httptest.ResponseRecorder, *Principal) {
	t.Helper()
	var seen *Principal
	h := Auth(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAuth_MissingHeader(t *testing.T) {
	rec, seen := serveAuth(t, staticAuthenticator(&Principal{UserID: "u1"}, nil), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec).Code)
	assert.Nil(t, seen)
}

func TestAuth_MalformedHeader(t *testing.T) {
	for _, header := range []string{"Token abc", "Bearer", "Bearer "} {
		t.Run(header, func(t *testing.T) {
			rec, _ := serveAuth(t, staticAuthenticator(&Principal{UserID: "u1"}, nil), header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_SessionInvalidated(t *testing.T) {
	authn := staticAuthenticator(nil, fmt.Errorf("version check: %w", apperrors.ErrSessionInvalidated))
	rec, seen := serveAuth(t, authn, "Bearer stale")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "SESSION_INVALIDATED", resp.Code)
	assert.Equal(t, "Session has been invalidated. Please log in again.", resp.Message)
	assert.Nil(t, seen)
}

func TestAuth_InvalidToken(t *testing.T) {
	authn := staticAuthenticator(nil, fmt.Errorf("verify: %w", apperrors.ErrUnauthorized))
	rec, _ := serveAuth(t, authn, "Bearer garbage")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec).Code)
}

func TestAuth_UserGone(t *testing.T) {
	authn := staticAuthenticator(nil, apperrors.ErrNotFound)
	rec, _ := serveAuth(t, authn, "Bearer deleted-user")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_StoreFailureIsInternal(t *testing.T) {
	authn := staticAuthenticator(nil, fmt.Errorf("connection refused"))
	rec, _ := serveAuth(t, authn, "Bearer ok")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuth_AttachesPrincipal(t *testing.T) {
	want := &Principal{UserID: "u1", SessionID: "s1", Email: "ada@example.com", TokenVersion: 2}
	rec, seen := serveAuth(t, staticAuthenticator(want, nil), "bearer good")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, want, seen)
}

func TestContextHelpers_NoPrincipal(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, PrincipalFromContext(ctx))
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(ctx))
}
