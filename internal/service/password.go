package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/event"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/logger"
)

// ForgotPasswordMessage is returned for every accepted forgot-password
// request, whether or not the account exists.
const ForgotPasswordMessage = "If an account exists with that email, a password reset link has been sent."

// ChangePassword replaces the password of a password user. Every access
// token issued before the change stops working; the caller's session gets a
// fresh one and every other session is revoked.
func (s *AuthService) ChangePassword(ctx context.Context, userID, sessionID, current, next string) (string, error) {
	if current == "" || next == "" {
		return "", apperrors.InvalidInput("Please provide current and new password")
	}
	if err := validatePassword(next); err != nil {
		return "", err
	}

	user, err := s.Me(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.HasPassword() {
		return "", apperrors.InvalidInput("No password is set for this account. Use set password instead.")
	}
	if !auth.CheckPassword(user.PasswordHash, current) {
		return "", apperrors.InvalidField("currentPassword", "Current password is incorrect")
	}

	hash, err := auth.HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	user, err = s.users.SetPassword(ctx, userID, hash, domain.VersionBump{Access: true})
	if err != nil {
		return "", dependencyErr("set password", err)
	}

	if sessionID != "" {
		if _, err := s.sessions.RevokeAllExcept(ctx, userID, sessionID); err != nil {
			return "", err
		}
	}
	s.passwordChanged(ctx, userID, event.ReasonChanged)

	access, err := s.issuer.IssueAccess(userID, sessionID, user.TokenVersion)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return access, nil
}

// SetPassword gives an OAuth-only user a password. Existing tokens stay
// valid.
func (s *AuthService) SetPassword(ctx context.Context, userID, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasPassword() {
		return apperrors.InvalidInput("Password already set. Use change password instead.")
	}

	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.users.SetPassword(ctx, userID, hash, domain.VersionBump{}); err != nil {
		return dependencyErr("set password", err)
	}
	s.passwordChanged(ctx, userID, event.ReasonSet)
	return nil
}

// ForgotPassword emails a reset link when the account exists and has a
// password. The caller always gets the same answer so account existence is
// not disclosed; requests over the limit are dropped without sending.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ip string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return apperrors.InvalidField("email", "Please provide an email")
	}

	if s.forgot != nil && s.forgot.Limited(ctx, ip, email) {
		forgotPasswordTotal.WithLabelValues("limited").Inc()
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			forgotPasswordTotal.WithLabelValues("unknown").Inc()
			return nil
		}
		return dependencyErr("lookup user", err)
	}
	if !user.HasPassword() {
		forgotPasswordTotal.WithLabelValues("oauth_only").Inc()
		return nil
	}

	raw, err := s.ledger.Issue(ctx, user.ID, domain.PurposePasswordReset)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Name, raw); err != nil {
		forgotPasswordTotal.WithLabelValues("send_failed").Inc()
		s.logger.ErrorContext(ctx, "failed to send password reset email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return apperrors.Dependency("Email could not be sent. Please try again.", err)
	}

	forgotPasswordTotal.WithLabelValues("sent").Inc()
	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
		slog.String("email", logger.MaskEmail(user.Email)),
	)
	return nil
}

// ValidateResetToken reports whether a reset link is still usable without
// consuming it.
func (s *AuthService) ValidateResetToken(ctx context.Context, raw string) error {
	_, err := s.ledger.Validate(ctx, raw, domain.PurposePasswordReset)
	return err
}

// ResetPassword consumes a reset token and sets the new password. Both
// token counters are bumped and every session is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, raw, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	tok, err := s.ledger.Consume(ctx, raw, domain.PurposePasswordReset)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.users.SetPassword(ctx, tok.UserID, hash, domain.VersionBump{Access: true, Refresh: true}); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidToken()
		}
		return dependencyErr("set password", err)
	}
	if _, err := s.sessions.RevokeAll(ctx, tok.UserID); err != nil {
		return err
	}

	s.passwordChanged(ctx, tok.UserID, event.ReasonReset)
	return nil
}

func (s *AuthService) passwordChanged(ctx context.Context, userID, reason string) {
	if err := s.events.PublishPasswordChanged(ctx, userID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password changed event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "password updated",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}
