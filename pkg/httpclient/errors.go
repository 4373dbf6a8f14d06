package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/authcore/pkg/errors"
)

// remoteError is the flat error body written by httputil.WriteError.
type remoteError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// returns an *apperrors.AppError carrying the remote code and message. Bodies
// that are not in the standard shape produce an error with the raw text.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", service, resp.StatusCode, err)
	}

	var remote remoteError
	if json.Unmarshal(body, &remote) != nil || remote.Code == "" {
		return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, string(body))
	}

	return &apperrors.AppError{
		Code:    remote.Code,
		Message: remote.Message,
		Fields:  remote.Fields,
		Status:  resp.StatusCode,
		Err:     sentinelFor(resp.StatusCode, remote.Code),
	}
}

func sentinelFor(status int, code string) error {
	switch {
	case code == apperrors.CodeSessionInvalidated:
		return apperrors.ErrSessionInvalidated
	case code == apperrors.CodeInvalidToken:
		return apperrors.ErrInvalidToken
	case status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case status == http.StatusConflict:
		return apperrors.ErrAlreadyExists
	case status == http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	case status >= 500:
		return apperrors.ErrDependency
	case status >= 400:
		return apperrors.ErrInvalidInput
	default:
		return nil
	}
}
