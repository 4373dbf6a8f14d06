package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/notifier"
	"github.com/utafrali/authcore/internal/repository"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/logger"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgGoogleAccount      = `This account uses Google login. Please use "Continue with Google".`
	msgGoogleUnverified   = "Google account email is not verified"
	msgUserExists         = "User already exists"
	minPasswordLength     = 6
)

// Config holds the tunables of AuthService.
type Config struct {
	BcryptCost int
	// EmailTimeout bounds emails sent after the response has gone out.
	EmailTimeout time.Duration
}

// AuthService implements the credential flows and the auth gateway.
type AuthService struct {
	users    repository.UserRepository
	sessions *SessionRegistry
	ledger   *Ledger
	issuer   *auth.Issuer
	mailer   notifier.Notifier
	google   IdentityResolver
	events   EventPublisher
	forgot   RequestGuard
	resend   RequestGuard
	cfg      Config
	logger   *slog.Logger
	nowFunc  func() time.Time
	emailsWG sync.WaitGroup
}

// Deps bundles the collaborators of AuthService.
type Deps struct {
	Users    repository.UserRepository
	Sessions *SessionRegistry
	Ledger   *Ledger
	Issuer   *auth.Issuer
	Mailer   notifier.Notifier
	Google   IdentityResolver
	Events   EventPublisher
	// ForgotGuard throttles forgot-password by IP and email.
	ForgotGuard RequestGuard
	// ResendGuard throttles verification resends per account.
	ResendGuard RequestGuard
}

// NewAuthService creates a new auth service.
func NewAuthService(deps Deps, cfg Config, logger *slog.Logger) *AuthService {
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = 30 * time.Second
	}
	return &AuthService{
		users:    deps.Users,
		sessions: deps.Sessions,
		ledger:   deps.Ledger,
		issuer:   deps.Issuer,
		mailer:   deps.Mailer,
		google:   deps.Google,
		events:   deps.Events,
		forgot:   deps.ForgotGuard,
		resend:   deps.ResendGuard,
		cfg:      cfg,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput holds the parameters for password login.
type LoginInput struct {
	Email    string
	Password string
}

// --- Sign-in flows ---

// Register creates a password user, starts their first session and sends
// the verification and welcome emails in the background.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta ClientMeta) (*AuthResult, error) {
	name := strings.TrimSpace(input.Name)
	email := domain.NormalizeEmail(input.Email)
	if name == "" || email == "" || input.Password == "" {
		return nil, apperrors.InvalidInput("Please provide all required fields")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.InvalidField("email", msgUserExists)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, dependencyErr("lookup user", err)
	}

	hash, err := auth.HashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFunc().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Provider:     domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, apperrors.InvalidField("email", msgUserExists)
		}
		return nil, dependencyErr("create user", err)
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.sendInBackground(ctx, "verification", func(ctx context.Context) error {
		raw, err := s.ledger.Issue(ctx, user.ID, domain.PurposeEmailVerification)
		if err != nil {
			return err
		}
		return s.mailer.SendVerification(ctx, user.Email, user.Name, raw)
	})
	s.sendInBackground(ctx, "welcome", func(ctx context.Context) error {
		return s.mailer.SendWelcome(ctx, user.Email, user.Name)
	})

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", logger.MaskEmail(user.Email)),
	)
	return result, nil
}

// Login authenticates a password user and starts a new session.
func (s *AuthService) Login(ctx context.Context, input LoginInput, meta ClientMeta) (*AuthResult, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.InvalidInput("Please provide email and password")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			loginsTotal.WithLabelValues("password", "rejected").Inc()
			return nil, apperrors.Unauthorized(msgInvalidCredentials)
		}
		return nil, dependencyErr("lookup user", err)
	}

	if !user.HasPassword() {
		loginsTotal.WithLabelValues("password", "oauth_only").Inc()
		return nil, apperrors.Unauthorized(msgGoogleAccount)
	}
	if !auth.CheckPassword(user.PasswordHash, input.Password) {
		loginsTotal.WithLabelValues("password", "rejected").Inc()
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	loginsTotal.WithLabelValues("password", "success").Inc()

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", result.SessionID),
	)
	return result, nil
}

// GoogleLogin signs in with a Google credential. An existing account with
// the same email is linked to the Google identity; otherwise a new verified
// account is created. Both require Google to have verified the address.
func (s *AuthService) GoogleLogin(ctx context.Context, cred identity.Credential, meta ClientMeta) (*AuthResult, error) {
	ext, err := s.google.Resolve(ctx, cred)
	if err != nil {
		loginsTotal.WithLabelValues("google", "rejected").Inc()
		return nil, err
	}

	user, created, err := s.findOrLinkGoogleUser(ctx, ext)
	if err != nil {
		return nil, err
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	loginsTotal.WithLabelValues("google", "success").Inc()

	if created {
		if err := s.events.PublishUserRegistered(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.registered event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		s.sendInBackground(ctx, "welcome", func(ctx context.Context) error {
			return s.mailer.SendWelcome(ctx, user.Email, user.Name)
		})
	}

	s.logger.InfoContext(ctx, "user logged in with google",
		slog.String("user_id", user.ID),
		slog.Bool("created", created),
	)
	return result, nil
}

func (s *AuthService) findOrLinkGoogleUser(ctx context.Context, ext *identity.External) (*domain.User, bool, error) {
	user, err := s.users.GetByGoogleID(ctx, ext.Subject)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, dependencyErr("lookup google user", err)
	}
	if !ext.EmailVerified {
		loginsTotal.WithLabelValues("google", "unverified_email").Inc()
		return nil, false, apperrors.Unauthorized(msgGoogleUnverified)
	}

	email := domain.NormalizeEmail(ext.Email)
	user, err = s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		user.GoogleID = ext.Subject
		if user.Avatar == "" {
			user.Avatar = ext.Picture
		}
		user.UpdatedAt = s.nowFunc().UTC()
		if err := s.users.Update(ctx, user); err != nil {
			return nil, false, dependencyErr("link google account", err)
		}
		if !user.EmailVerified {
			if err := s.users.MarkEmailVerified(ctx, user.ID, user.UpdatedAt); err != nil {
				return nil, false, dependencyErr("mark email verified", err)
			}
			user.EmailVerified = true
			user.EmailVerifiedAt = &user.UpdatedAt
		}
		return user, false, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, false, dependencyErr("lookup user", err)
	}

	now := s.nowFunc().UTC()
	name := strings.TrimSpace(ext.Name)
	if name == "" {
		name = email
	}
	user = &domain.User{
		ID:              uuid.New().String(),
		Name:            name,
		Email:           email,
		Avatar:          ext.Picture,
		Provider:        domain.ProviderGoogle,
		GoogleID:        ext.Subject,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, dependencyErr("create google user", err)
	}
	return user, true, nil
}

// startSession issues a token pair bound to a new session id and records
// the session under the refresh token's hash.
func (s *AuthService) startSession(ctx context.Context, user *domain.User, meta ClientMeta) (*AuthResult, error) {
	sessionID := uuid.New().String()
	tokens, err := s.issuer.Issue(user.ID, sessionID, user.TokenVersion, user.RefreshTokenVersion)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	if _, err := s.sessions.Create(ctx, sessionID, user.ID, tokens.RefreshToken, meta); err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tokens: tokens, SessionID: sessionID}, nil
}

// --- Token lifecycle ---

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, *domain.User, error) {
	if refreshToken == "" {
		refreshesTotal.WithLabelValues("missing").Inc()
		return "", nil, apperrors.Unauthorized("No refresh token")
	}

	claims, err := s.issuer.Verify(refreshToken, auth.TypeRefresh)
	if err != nil {
		refreshesTotal.WithLabelValues("invalid").Inc()
		return "", nil, apperrors.Unauthorized("Invalid refresh token")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			refreshesTotal.WithLabelValues("invalid").Inc()
			return "", nil, apperrors.Unauthorized("User not found")
		}
		return "", nil, dependencyErr("load user", err)
	}

	if claims.Version < user.RefreshTokenVersion {
		refreshesTotal.WithLabelValues("stale").Inc()
		return "", nil, apperrors.Unauthorized("Session expired. Please login again.")
	}

	session, err := s.sessions.Validate(ctx, refreshToken)
	if err != nil {
		refreshesTotal.WithLabelValues("revoked").Inc()
		return "", nil, err
	}

	access, err := s.issuer.IssueAccess(user.ID, session.ID, user.TokenVersion)
	if err != nil {
		return "", nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshesTotal.WithLabelValues("success").Inc()
	return access, user, nil
}

// Authenticate is the auth gateway: it verifies an access token and checks
// it against the user's current token version.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.User, *auth.Claims, error) {
	claims, err := s.issuer.Verify(accessToken, auth.TypeAccess)
	if err != nil {
		gatewayRejectionsTotal.WithLabelValues("invalid").Inc()
		return nil, nil, apperrors.Unauthorized("Not authorized, token failed")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			gatewayRejectionsTotal.WithLabelValues("unknown_user").Inc()
			return nil, nil, apperrors.Unauthorized("User not found")
		}
		return nil, nil, dependencyErr("load user", err)
	}

	if claims.Version < user.TokenVersion {
		gatewayRejectionsTotal.WithLabelValues("stale").Inc()
		return nil, nil, apperrors.SessionInvalidated()
	}
	return user, claims, nil
}

// Logout revokes the caller's current session. An already revoked session
// is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, userID, sessionID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
	)
	return nil
}

// Me returns the current user.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, dependencyErr("load user", err)
	}
	return user, nil
}

// Sessions returns the user's live sessions.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// RevokeSession revokes one of the user's sessions.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	return s.sessions.Revoke(ctx, userID, sessionID)
}

// RevokeAllSessions signs the user out everywhere. With exceptCurrent the
// caller's session survives and gets a fresh access token; the access
// tokens held by every other device are invalidated. Without it both
// counters are bumped and the caller must log in again.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID, currentSessionID string, exceptCurrent bool) (string, error) {
	var (
		revoked int64
		err     error
		bump    = domain.VersionBump{Access: true, Refresh: true}
		kept    string
	)
	if exceptCurrent && currentSessionID != "" {
		bump.Refresh = false
		kept = currentSessionID
		revoked, err = s.sessions.RevokeAllExcept(ctx, userID, currentSessionID)
	} else {
		revoked, err = s.sessions.RevokeAll(ctx, userID)
	}
	if err != nil {
		return "", err
	}

	user, err := s.users.BumpVersions(ctx, userID, bump)
	if err != nil {
		return "", dependencyErr("bump token versions", err)
	}

	if err := s.events.PublishSessionsRevoked(ctx, userID, revoked, kept); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish sessions revoked event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("revoked", revoked),
		slog.Bool("kept_current", kept != ""),
	)

	if kept == "" {
		return "", nil
	}
	access, err := s.issuer.IssueAccess(userID, kept, user.TokenVersion)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return access, nil
}

// Wait blocks until background emails have finished.
func (s *AuthService) Wait() {
	s.emailsWG.Wait()
}

// sendInBackground runs send detached from the request so the response
// does not wait on the mail relay. Failures are logged only.
func (s *AuthService) sendInBackground(ctx context.Context, kind string, send func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.emailsWG.Add(1)
	go func() {
		defer s.emailsWG.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cfg.EmailTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.ErrorContext(ctx, "failed to send email",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidField("password", fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	return nil
}
