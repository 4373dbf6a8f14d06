package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authcore/internal/identity"
	apperrors "github.com/utafrali/authcore/pkg/errors"
)

func TestVerifyEmail_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "ada@example.com", "secret1")
	raw := f.mailer.verificationToken("ada@example.com")
	require.NotEmpty(t, raw)

	require.NoError(t, f.svc.VerifyEmail(ctx, raw))

	user, err := f.svc.Me(ctx, res.User.ID)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.NotNil(t, user.EmailVerifiedAt)

	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, raw), apperrors.ErrInvalidToken)
}

func TestVerifyEmail_ResetTokenIsNotAVerificationToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ada@example.com", "secret1")
	require.NoError(t, f.svc.ForgotPassword(ctx, "ada@example.com", ""))

	err := f.svc.VerifyEmail(ctx, f.mailer.resetToken("ada@example.com"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestResendVerification_RetiresPreviousToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "ada@example.com", "secret1")
	first := f.mailer.verificationToken("ada@example.com")

	require.NoError(t, f.svc.ResendVerification(ctx, res.User.ID))
	second := f.mailer.verificationToken("ada@example.com")
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, first), apperrors.ErrInvalidToken)
	assert.NoError(t, f.svc.VerifyEmail(ctx, second))

	err := f.svc.ResendVerification(ctx, res.User.ID)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Email is already verified", appErr.Message)
}

func TestResendVerification_Limited(t *testing.T) {
	f := newFixture(t, withResendGuard(guard(1)))
	ctx := context.Background()
	res := f.register(t, "ada@example.com", "secret1")
	initial := f.mailer.verificationToken("ada@example.com")

	require.NoError(t, f.svc.ResendVerification(ctx, res.User.ID))
	resent := f.mailer.verificationToken("ada@example.com")
	require.NoError(t, f.svc.ResendVerification(ctx, res.User.ID))

	assert.NotEqual(t, initial, resent)
	assert.Equal(t, resent, f.mailer.verificationToken("ada@example.com"))
}

// --- Delete account ---

func TestDeleteAccount_Validation(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "ada@example.com", "secret1")
	ctx := context.Background()

	tests := []struct {
		name         string
		password     string
		confirmation string
		message      string
	}{
		{"missing password", "", "DELETE", "Password required to delete account"},
		{"wrong password", "wrong1", "DELETE", "Password is incorrect"},
		{"missing confirmation", "secret1", "delete", "Please type DELETE to confirm account deletion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.DeleteAccount(ctx, res.User.ID, tt.password, tt.confirmation)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}

	_, err := f.svc.Me(ctx, res.User.ID)
	assert.NoError(t, err)
}

func TestDeleteAccount_RemovesEverything(t *testing.T) {
	events := new(mockEvents)
	events.On("PublishUserRegistered", mock.Anything, mock.Anything).Return(nil)
	events.On("PublishUserDeleted", mock.Anything, mock.AnythingOfType("string")).Return(nil)
	f := newFixture(t, withEvents(events))
	ctx := context.Background()
	res := f.register(t, "ada@example.com", "secret1")

	require.NoError(t, f.svc.DeleteAccount(ctx, res.User.ID, "secret1", "DELETE"))

	_, err := f.svc.Me(ctx, res.User.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, _, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, f.mailer.verificationToken("ada@example.com")), apperrors.ErrInvalidToken)

	events.AssertCalled(t, "PublishUserDeleted", mock.Anything, res.User.ID)
}

func TestDeleteAccount_GoogleUserNeedsOnlyConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.google.ext = &identity.External{Subject: "g-1", Email: "ada@example.com", EmailVerified: true}
	res, err := f.svc.GoogleLogin(ctx, identity.Credential{Code: "c"}, ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAccount(ctx, res.User.ID, "", "DELETE"))
}

// --- Google link ---

func TestLinkGoogle_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "ada@example.com", "secret1")
	f.google.ext = &identity.External{Subject: "g-1", Email: "Ada@Example.com", EmailVerified: true, Picture: "https://img/a.png"}

	user, err := f.svc.LinkGoogle(ctx, res.User.ID, identity.Credential{Code: "c"})
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.NotNil(t, user.EmailVerifiedAt)

	linked, err := f.store.Users().GetByGoogleID(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, linked.ID)
	assert.True(t, linked.EmailVerified)
	assert.Equal(t, "https://img/a.png", linked.Avatar)

	// Linking the same identity again is a no-op.
	_, err = f.svc.LinkGoogle(ctx, res.User.ID, identity.Credential{Code: "c"})
	assert.NoError(t, err)
}

func TestLinkGoogle_Refusals(t *testing.T) {
	tests := []struct {
		name    string
		ext     *identity.External
		wantErr error
		wantMsg string
	}{
		{
			name:    "unverified google email",
			ext:     &identity.External{Subject: "g-2", Email: "ada@example.com", EmailVerified: false},
			wantErr: apperrors.ErrUnauthorized,
			wantMsg: msgGoogleUnverified,
		},
		{
			name:    "email mismatch",
			ext:     &identity.External{Subject: "g-2", Email: "someone@example.com", EmailVerified: true},
			wantErr: apperrors.ErrInvalidInput,
			wantMsg: "Google email does not match your account email",
		},
		{
			name:    "subject linked to another user",
			ext:     &identity.External{Subject: "g-bob", Email: "ada@example.com", EmailVerified: true},
			wantErr: apperrors.ErrInvalidInput,
			wantMsg: msgGoogleTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			f.google.ext = &identity.External{Subject: "g-bob", Email: "bob@example.com", EmailVerified: true}
			_, err := f.svc.GoogleLogin(ctx, identity.Credential{Code: "c"}, ClientMeta{})
			require.NoError(t, err)

			ada := f.register(t, "ada@example.com", "secret1")
			f.google.ext = tt.ext

			user, err := f.svc.LinkGoogle(ctx, ada.User.ID, identity.Credential{Code: "c"})
			assert.Nil(t, user)
			require.ErrorIs(t, err, tt.wantErr)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantMsg, appErr.Message)

			stored, err := f.svc.Me(ctx, ada.User.ID)
			require.NoError(t, err)
			assert.Empty(t, stored.GoogleID)
			assert.False(t, stored.EmailVerified)
		})
	}
}

func TestLinkGoogle_ResolverError(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "ada@example.com", "secret1")
	f.google.err = apperrors.Unauthorized("Google authentication failed")

	_, err := f.svc.LinkGoogle(context.Background(), res.User.ID, identity.Credential{Code: "bad"})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestUnlinkGoogle_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "ada@example.com", "secret1")
	f.google.ext = &identity.External{Subject: "g-1", Email: "ada@example.com", EmailVerified: true}
	_, err := f.svc.LinkGoogle(ctx, res.User.ID, identity.Credential{Code: "c"})
	require.NoError(t, err)

	require.NoError(t, f.svc.UnlinkGoogle(ctx, res.User.ID))

	_, err = f.store.Users().GetByGoogleID(ctx, "g-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	user, err := f.svc.Me(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "local", user.Provider)

	f.login(t, "ada@example.com", "secret1")
}

func TestUnlinkGoogle_NothingLinked(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "ada@example.com", "secret1")

	err := f.svc.UnlinkGoogle(context.Background(), res.User.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUnlinkGoogle_RefusedWithoutPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.google.ext = &identity.External{Subject: "g-1", Email: "ada@example.com", EmailVerified: true}
	res, err := f.svc.GoogleLogin(ctx, identity.Credential{Code: "c"}, ClientMeta{})
	require.NoError(t, err)

	err = f.svc.UnlinkGoogle(ctx, res.User.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	linked, err := f.store.Users().GetByGoogleID(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, linked.ID)
}
