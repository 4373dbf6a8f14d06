package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authcore/pkg/errors"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestParseResponseError_FlatBody(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"session invalidated", 401, `{"code":"SESSION_INVALIDATED","message":"Session has been invalidated. Please log in again."}`, apperrors.ErrSessionInvalidated},
		{"unauthorized", 401, `{"code":"UNAUTHORIZED","message":"invalid or expired token"}`, apperrors.ErrUnauthorized},
		{"invalid token", 400, `{"code":"INVALID_TOKEN","message":"Invalid or expired token"}`, apperrors.ErrInvalidToken},
		{"rate limited", 429, `{"code":"RATE_LIMITED","message":"slow down"}`, apperrors.ErrRateLimited},
		{"validation", 400, `{"code":"VALIDATION_ERROR","message":"bad","fields":{"email":"is required"}}`, apperrors.ErrInvalidInput},
		{"server", 503, `{"code":"DEPENDENCY_ERROR","message":"down"}`, apperrors.ErrDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(response(tt.status, tt.body), "auth")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.status, appErr.Status)
		})
	}
}

func TestParseResponseError_FieldsPreserved(t *testing.T) {
	err := ParseResponseError(response(400, `{"code":"VALIDATION_ERROR","message":"bad","fields":{"email":"is required"}}`), "auth")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "is required", appErr.Fields["email"])
}

func TestParseResponseError_Unstructured(t *testing.T) {
	err := ParseResponseError(response(502, `<html>bad gateway</html>`), "mail-relay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail-relay returned status 502")

	var appErr *apperrors.AppError
	assert.False(t, errors.As(err, &appErr))
}
