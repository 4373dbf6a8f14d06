package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	strongAccess  = "prod-access-secret-0123456789abcdef0123"
	strongRefresh = "prod-refresh-secret-0123456789abcdef012"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 15*time.Minute, cfg.JWTAccessExpiry)
	assert.Equal(t, 720*time.Hour, cfg.JWTRefreshExpiry)
	assert.Equal(t, 10*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerifyTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.SessionInactivityTTL)
	assert.Equal(t, 3, cfg.ForgotPasswordEmailMax)
	assert.Equal(t, 15*time.Minute, cfg.ForgotPasswordWindow)
	assert.NotEmpty(t, cfg.JWTAccessSecret)
	assert.NotEqual(t, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func TestLoad_Production_RequiresSecrets(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":        "production",
		"JWT_ACCESS_SECRET":  "",
		"JWT_REFRESH_SECRET": strongRefresh,
	})

	cfg, err := Load()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ACCESS_SECRET must be explicitly set")
}

func TestLoad_Production_RejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":        "staging",
		"JWT_ACCESS_SECRET":  strongAccess,
		"JWT_REFRESH_SECRET": "too-short",
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_REFRESH_SECRET must be at least 32 characters")
}

func TestLoad_RejectsIdenticalSecrets(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":        "production",
		"JWT_ACCESS_SECRET":  strongAccess,
		"JWT_REFRESH_SECRET": strongAccess,
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoad_Production_AcceptsStrongSecrets(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":        "production",
		"JWT_ACCESS_SECRET":  strongAccess,
		"JWT_REFRESH_SECRET": strongRefresh,
		"STORE_BACKEND":      "memory",
		"RATE_LIMIT_BACKEND": "redis",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, strongAccess, cfg.JWTAccessSecret)
	assert.Equal(t, BackendRedis, cfg.RateLimitBackend)
}

func TestLoad_UnknownBackends(t *testing.T) {
	tests := map[string]string{
		"STORE_BACKEND":      "mongo",
		"RATE_LIMIT_BACKEND": "memcached",
		"MAIL_TRANSPORT":     "carrier-pigeon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setEnvs(t, map[string]string{"ENVIRONMENT": "development", key: value})
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), value)
		})
	}
}

func TestLoad_HTTPMailRequiresRelayURL(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development", "MAIL_TRANSPORT": "http"})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAIL_RELAY_URL")
}

func TestLoad_InvalidPort(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development", "AUTH_HTTP_PORT": "70000"})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoad_DurationOverrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":            "development",
		"RESET_TOKEN_TTL":        "5m",
		"FORGOT_PASSWORD_WINDOW": "1h",
		"KAFKA_BROKERS":          "k1:9092,k2:9092",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, time.Hour, cfg.ForgotPasswordWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestConfig_PostgresAndRedis(t *testing.T) {
	setEnvs(t, map[string]string{"ENVIRONMENT": "development", "POSTGRES_HOST": "db", "REDIS_PORT": "6380"})

	cfg, err := Load()
	require.NoError(t, err)

	pg := cfg.Postgres()
	assert.Equal(t, "db", pg.Host)
	assert.Contains(t, pg.DSN(), "@db:5432/authcore")
	assert.Equal(t, "localhost:6380", cfg.Redis().Addr())
}

func TestLoad_RateLimitRetentionMustCoverWindows(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr bool
	}{
		{"defaults", map[string]string{}, false},
		{"equal to longest window", map[string]string{"RATE_LIMIT_RETENTION": "1h", "RESEND_VERIFICATION_WINDOW": "1h"}, false},
		{"shorter than forgot window", map[string]string{"RATE_LIMIT_RETENTION": "10m", "FORGOT_PASSWORD_WINDOW": "15m", "RESEND_VERIFICATION_WINDOW": "5m"}, true},
		{"shorter than resend window", map[string]string{"RATE_LIMIT_RETENTION": "30m", "RESEND_VERIFICATION_WINDOW": "1h"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "development")
			setEnvs(t, tt.envs)

			_, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "RATE_LIMIT_RETENTION")
				return
			}
			require.NoError(t, err)
		})
	}
}
