package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

// DeleteConfirmation must be typed by the user to delete their account.
const DeleteConfirmation = "DELETE"

const msgGoogleTaken = "This Google account is already linked to another user"

// VerifyEmail consumes a verification token and marks the address verified.
func (s *AuthService) VerifyEmail(ctx context.Context, raw string) error {
	tok, err := s.ledger.Consume(ctx, raw, domain.PurposeEmailVerification)
	if err != nil {
		return err
	}

	if err := s.users.MarkEmailVerified(ctx, tok.UserID, s.nowFunc().UTC()); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidToken()
		}
		return dependencyErr("mark email verified", err)
	}

	if err := s.events.PublishEmailVerified(ctx, tok.UserID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish email verified event",
			slog.String("user_id", tok.UserID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "email verified", slog.String("user_id", tok.UserID))
	return nil
}

// ResendVerification issues a new verification token, retiring the previous
// one. Resends over the per-account limit are dropped silently.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return apperrors.InvalidInput("Email is already verified")
	}

	if s.resend != nil && s.resend.Limited(ctx, "", user.Email) {
		return nil
	}

	raw, err := s.ledger.Issue(ctx, user.ID, domain.PurposeEmailVerification)
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerification(ctx, user.Email, user.Name, raw); err != nil {
		s.logger.ErrorContext(ctx, "failed to send verification email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return apperrors.Dependency("Failed to send verification email", err)
	}
	return nil
}

// LinkGoogle attaches a Google identity to a signed-in user. The Google
// address must be verified and match the account email, and the Google
// subject must not belong to another user. Linking marks the email verified.
func (s *AuthService) LinkGoogle(ctx context.Context, userID string, cred identity.Credential) (*domain.User, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	ext, err := s.google.Resolve(ctx, cred)
	if err != nil {
		return nil, err
	}
	if !ext.EmailVerified {
		return nil, apperrors.Unauthorized(msgGoogleUnverified)
	}

	owner, err := s.users.GetByGoogleID(ctx, ext.Subject)
	switch {
	case err == nil && owner.ID != user.ID:
		return nil, apperrors.InvalidInput(msgGoogleTaken)
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, dependencyErr("lookup google user", err)
	}
	if domain.NormalizeEmail(ext.Email) != user.Email {
		return nil, apperrors.InvalidInput("Google email does not match your account email")
	}

	user.GoogleID = ext.Subject
	if user.Avatar == "" {
		user.Avatar = ext.Picture
	}
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, apperrors.InvalidInput(msgGoogleTaken)
		}
		return nil, dependencyErr("link google account", err)
	}
	if !user.EmailVerified {
		now := s.nowFunc().UTC()
		if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
			return nil, dependencyErr("mark email verified", err)
		}
		user.EmailVerified = true
		user.EmailVerifiedAt = &now
	}

	s.logger.InfoContext(ctx, "google account linked", slog.String("user_id", user.ID))
	return user, nil
}

// UnlinkGoogle detaches the Google identity. It is refused while Google is
// the only way to sign in.
func (s *AuthService) UnlinkGoogle(ctx context.Context, userID string) error {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if user.GoogleID == "" {
		return apperrors.InvalidInput("No Google account linked")
	}
	if !user.HasPassword() {
		return apperrors.InvalidInput("Cannot unlink Google. Please set a password first.")
	}

	user.GoogleID = ""
	user.Provider = domain.ProviderLocal
	if err := s.users.Update(ctx, user); err != nil {
		return dependencyErr("unlink google account", err)
	}

	s.logger.InfoContext(ctx, "google account unlinked", slog.String("user_id", user.ID))
	return nil
}

// DeleteAccount removes the user with their sessions and tokens. Password
// users must re-enter their password; everyone must type the confirmation
// word.
func (s *AuthService) DeleteAccount(ctx context.Context, userID, password, confirmation string) error {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}

	if user.HasPassword() {
		if password == "" {
			return apperrors.InvalidField("password", "Password required to delete account")
		}
		if !auth.CheckPassword(user.PasswordHash, password) {
			return apperrors.InvalidField("password", "Password is incorrect")
		}
	}
	if confirmation != DeleteConfirmation {
		return apperrors.InvalidField("confirmation", "Please type DELETE to confirm account deletion")
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return dependencyErr("delete user", err)
	}

	if err := s.events.PublishUserDeleted(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user deleted event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "account deleted", slog.String("user_id", userID))
	return nil
}
