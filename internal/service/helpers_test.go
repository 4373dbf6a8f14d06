package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/event"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/ratelimit"
	"github.com/utafrali/authcore/internal/repository/memory"
)

// --- Fakes ---

// recordingMailer keeps the last raw token sent to each address.
type recordingMailer struct {
	mu            sync.Mutex
	resets        map[string]string
	verifications map[string]string
	welcomes      []string
	resetCalls    int
	err           error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{
		resets:        make(map[string]string),
		verifications: make(map[string]string),
	}
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, _, rawToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++
	if m.err != nil {
		return m.err
	}
	m.resets[to] = rawToken
	return nil
}

func (m *recordingMailer) SendVerification(_ context.Context, to, _, rawToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verifications[to] = rawToken
	return nil
}

func (m *recordingMailer) SendWelcome(_ context.Context, to, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, to)
	return nil
}

func (m *recordingMailer) resetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[email]
}

func (m *recordingMailer) verificationToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[email]
}

func (m *recordingMailer) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetCalls
}

type stubResolver struct {
	ext *identity.External
	err error
}

func (r *stubResolver) Resolve(_ context.Context, _ identity.Credential) (*identity.External, error) {
	return r.ext, r.err
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockEvents) PublishPasswordChanged(ctx context.Context, userID, reason string) error {
	return m.Called(ctx, userID, reason).Error(0)
}

func (m *mockEvents) PublishSessionsRevoked(ctx context.Context, userID string, revoked int64, keptSessionID string) error {
	return m.Called(ctx, userID, revoked, keptSessionID).Error(0)
}

func (m *mockEvents) PublishEmailVerified(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockEvents) PublishUserDeleted(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

// --- Fixture ---

type fixture struct {
	svc      *AuthService
	store    *memory.Store
	mailer   *recordingMailer
	google   *stubResolver
	issuer   *auth.Issuer
	ledger   *Ledger
	sessions *SessionRegistry
}

type fixtureOption func(*Deps)

func withEvents(events EventPublisher) fixtureOption {
	return func(d *Deps) { d.Events = events }
}

func withForgotGuard(g RequestGuard) fixtureOption {
	return func(d *Deps) { d.ForgotGuard = g }
}

func withResendGuard(g RequestGuard) fixtureOption {
	return func(d *Deps) { d.ResendGuard = g }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:  "access-secret-for-tests-0123456789abcdef",
		RefreshSecret: "refresh-secret-for-tests-0123456789abcdef",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "authcore-test",
	})
	require.NoError(t, err)

	store := memory.NewStore()
	mailer := newRecordingMailer()
	google := &stubResolver{}
	ledger := NewLedger(store.Tokens(), map[domain.Purpose]time.Duration{
		domain.PurposePasswordReset:     10 * time.Minute,
		domain.PurposeEmailVerification: 24 * time.Hour,
	})
	sessions := NewSessionRegistry(store.Sessions(), 30*24*time.Hour)

	deps := Deps{
		Users:    store.Users(),
		Sessions: sessions,
		Ledger:   ledger,
		Issuer:   issuer,
		Mailer:   mailer,
		Google:   google,
		Events:   event.NewProducer(nil, discardLogger()),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc := NewAuthService(deps, Config{BcryptCost: 4}, discardLogger())
	t.Cleanup(svc.Wait)

	return &fixture{
		svc:      svc,
		store:    store,
		mailer:   mailer,
		google:   google,
		issuer:   issuer,
		ledger:   ledger,
		sessions: sessions,
	}
}

func (f *fixture) register(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Name:     "Ada Lovelace",
		Email:    email,
		Password: password,
	}, ClientMeta{IP: "10.0.0.1", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0"})
	require.NoError(t, err)
	f.svc.Wait()
	return res
}

func (f *fixture) login(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), LoginInput{Email: email, Password: password},
		ClientMeta{IP: "10.0.0.2", UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Safari/604.1"})
	require.NoError(t, err)
	return res
}

var errRelayDown = errors.New("relay down")

func guard(limit int) *ratelimit.Guard {
	rule := ratelimit.Rule{Max: limit, Window: time.Hour}
	return ratelimit.NewGuard(ratelimit.NewFixedWindow(time.Hour), "test", rule, rule, discardLogger())
}
