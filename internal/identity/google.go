// Package identity resolves external OAuth credentials to a verified
// identity. Only Google is supported.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httpclient"
)

const (
	googleUserInfoURL  = "https://openidconnect.googleapis.com/v1/userinfo"
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

// ErrNotConfigured is returned when no client id is set.
var ErrNotConfigured = errors.New("identity: google sign-in is not configured")

// Credential is what the browser hands over after the Google consent
// screen: either an authorization code or an access token.
type Credential struct {
	Code        string
	AccessToken string
}

// External is a verified identity from the provider.
type External struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Google resolves Google credentials through the OAuth code exchange and
// the OpenID userinfo endpoint.
type Google struct {
	oauth        *oauth2.Config
	client       *httpclient.CircuitBreakerClient
	userInfoURL  string
	tokenInfoURL string
}

// NewGoogle creates a Google resolver.
func NewGoogle(cfg GoogleConfig, client *httpclient.CircuitBreakerClient) *Google {
	return &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		client:       client,
		userInfoURL:  googleUserInfoURL,
		tokenInfoURL: googleTokenInfoURL,
	}
}

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Resolve verifies cred with Google. Rejected credentials yield an
// Unauthorized AppError; provider outages a Dependency error. An access
// token handed over directly must have been issued to this client.
func (g *Google) Resolve(ctx context.Context, cred Credential) (*External, error) {
	if g.oauth.ClientID == "" {
		return nil, apperrors.Dependency("Google login is not available", ErrNotConfigured)
	}

	accessToken := cred.AccessToken
	if cred.Code != "" {
		tok, err := g.oauth.Exchange(ctx, cred.Code)
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return nil, apperrors.Unauthorized("Google authentication failed")
			}
			return nil, apperrors.Dependency("Google authentication failed", err)
		}
		accessToken = tok.AccessToken
	}
	if accessToken == "" {
		return nil, apperrors.InvalidInput("code or accessToken is required")
	}
	if cred.Code == "" {
		if err := g.checkAudience(ctx, accessToken); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, apperrors.Dependency("Google authentication failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Unauthorized("Google authentication failed")
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, apperrors.Dependency("Google authentication failed", fmt.Errorf("decode userinfo: %w", err))
	}
	if info.Sub == "" || info.Email == "" {
		return nil, apperrors.Unauthorized("Google account has no email")
	}

	return &External{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}

type tokenInfo struct {
	Audience        string `json:"aud"`
	AuthorizedParty string `json:"azp"`
}

// checkAudience asks Google which client accessToken was issued to.
func (g *Google) checkAudience(ctx context.Context, accessToken string) error {
	u := g.tokenInfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build tokeninfo request: %w", err)
	}

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return apperrors.Dependency("Google authentication failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apperrors.Unauthorized("Google authentication failed")
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return apperrors.Dependency("Google authentication failed", fmt.Errorf("decode tokeninfo: %w", err))
	}
	if info.Audience != g.oauth.ClientID && info.AuthorizedParty != g.oauth.ClientID {
		return apperrors.Unauthorized("Google authentication failed")
	}
	return nil
}
