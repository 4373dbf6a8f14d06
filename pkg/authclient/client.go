// Package authclient is a Go client for the auth service that keeps its
// access token fresh. When a request is rejected with 401 it refreshes the
// token and replays the request once. Concurrent rejections share a single
// refresh call.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httpclient"
)

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh-token"
	logoutPath  = "/auth/logout"

	serviceName = "auth"
)

var (
	// ErrNoRefreshToken is returned when a refresh is needed but the store
	// holds no refresh token.
	ErrNoRefreshToken = errors.New("authclient: no refresh token")

	// ErrRefreshFailed wraps the reason a refresh call was rejected.
	ErrRefreshFailed = errors.New("authclient: token refresh failed")

	// ErrBodyNotReplayable is returned for requests whose body cannot be
	// rewound for a retry. Build requests with httpclient.NewJSONRequest or
	// http.NewRequest over a bytes/strings reader.
	ErrBodyNotReplayable = errors.New("authclient: request body is not replayable")
)

// Doer sends HTTP requests. *httpclient.Client and
// *httpclient.CircuitBreakerClient both satisfy it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. "https://api.example.com".
	BaseURL string
	HTTP    Doer
	Store   TokenStore
	// OnLogout runs once whenever the client drops its credentials, with the
	// reason: a forced logout from the server or a failed refresh.
	OnLogout func(reason error)
	// RefreshTimeout bounds the shared refresh call. Defaults to 10s.
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// Client attaches bearer tokens to requests and refreshes them on demand.
type Client struct {
	baseURL        string
	http           Doer
	store          TokenStore
	onLogout       func(error)
	refreshTimeout time.Duration
	logger         *slog.Logger

	refreshes singleflight.Group
	logoutMu  sync.Mutex
}

// New creates a Client. A nil HTTP uses httpclient defaults and a nil Store
// starts empty.
func New(cfg Config) *Client {
	if cfg.HTTP == nil {
		cfg.HTTP = httpclient.New(httpclient.DefaultConfig())
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore("", "")
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           cfg.HTTP,
		store:          cfg.Store,
		onLogout:       cfg.OnLogout,
		refreshTimeout: cfg.RefreshTimeout,
		logger:         cfg.Logger,
	}
}

// URL joins path onto the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login signs in with email and password and stores the issued tokens.
func (c *Client) Login(ctx context.Context, email, password string) error {
	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, c.URL(loginPath), loginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	c.store.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	return nil
}

// Logout ends the current session on the server and clears local tokens.
// Local tokens are cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.store.Clear()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(logoutPath), http.NoBody)
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	_ = resp.Body.Close()
	return nil
}

// Do sends req with the current access token. On a 401 it refreshes the
// token and sends req once more; the second response is returned as is.
// A 401 carrying SESSION_INVALIDATED, on either attempt, is not retried:
// credentials are cleared and an error wrapping
// apperrors.ErrSessionInvalidated returned.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}

	sent := c.store.AccessToken()
	resp, err := c.send(ctx, req, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || req.URL.Path == refreshPath {
		return resp, nil
	}
	if _, err := c.checkInvalidated(ctx, resp); err != nil {
		return nil, err
	}
	_ = resp.Body.Close()

	token, err := c.refresh(ctx, sent)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	return c.checkInvalidated(ctx, resp)
}

// checkInvalidated buffers the body of a 401 response. When the server
// reports SESSION_INVALIDATED the credentials are dropped and the error
// returned; otherwise resp comes back with its body intact.
func (c *Client) checkInvalidated(ctx context.Context, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read 401 body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if !sessionInvalidated(body) {
		return resp, nil
	}
	err = httpclient.ParseResponseError(resp, serviceName)
	c.logout(ctx, err)
	return nil, err
}

func (c *Client) send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return c.http.Do(ctx, out)
}

func sessionInvalidated(body []byte) bool {
	var payload struct {
		Code string `json:"code"`
	}
	return json.Unmarshal(body, &payload) == nil && payload.Code == apperrors.CodeSessionInvalidated
}

// refresh returns a fresh access token. stale is the token that was
// rejected; if the store already holds a different one, a refresh that
// finished in the meantime produced it and no new call is made.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		if current := c.store.AccessToken(); current != "" && current != stale {
			return current, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		token, err := c.requestRefresh(rctx)
		if err != nil {
			c.logout(ctx, err)
			return "", err
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (c *Client) requestRefresh(ctx context.Context) (string, error) {
	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, c.URL(refreshPath), refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, httpclient.ParseResponseError(resp, serviceName))
	}
	defer func() { _ = resp.Body.Close() }()

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrRefreshFailed, err)
	}
	if tokens.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrRefreshFailed)
	}

	c.store.SetTokens(tokens.AccessToken, refreshToken)
	c.logger.DebugContext(ctx, "access token refreshed")
	return tokens.AccessToken, nil
}

// logout clears the store and fires OnLogout, once per set of credentials.
func (c *Client) logout(ctx context.Context, reason error) {
	c.logoutMu.Lock()
	held := c.store.AccessToken() != "" || c.store.RefreshToken() != ""
	c.store.Clear()
	c.logoutMu.Unlock()

	if !held {
		return
	}
	c.logger.InfoContext(ctx, "credentials cleared", slog.String("reason", reason.Error()))
	if c.onLogout != nil {
		c.onLogout(reason)
	}
}
