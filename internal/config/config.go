package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/authcore/pkg/config"
	"github.com/utafrali/authcore/pkg/database"
)

const (
	devAccessSecret  = "dev-access-secret-change-me-0123456789"
	devRefreshSecret = "dev-refresh-secret-change-me-0123456789"
	minSecretLength  = 32
)

// Store and limiter backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Mail transports.
const (
	MailLog  = "log"
	MailHTTP = "http"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"AUTH_HTTP_PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`
	TrustedProxyCIDRs  []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`

	// Credential/session store
	StoreBackend string        `env:"STORE_BACKEND" envDefault:"postgres"`
	PostgresHost string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string        `env:"POSTGRES_USER" envDefault:"authcore"`
	PostgresPass string        `env:"POSTGRES_PASSWORD" envDefault:"authcore_secret"`
	PostgresDB   string        `env:"POSTGRES_DB" envDefault:"authcore"`
	PostgresSSL  string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns   int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns   int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBSlowQuery  time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Rate limiter
	RateLimitBackend       string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisHost              string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort              int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword          string        `env:"REDIS_PASSWORD"`
	RedisDB                int           `env:"REDIS_DB" envDefault:"0"`
	ForgotPasswordEmailMax int           `env:"FORGOT_PASSWORD_EMAIL_MAX" envDefault:"3"`
	ForgotPasswordIPMax    int           `env:"FORGOT_PASSWORD_IP_MAX" envDefault:"10"`
	ForgotPasswordWindow   time.Duration `env:"FORGOT_PASSWORD_WINDOW" envDefault:"15m"`
	ResendVerificationMax  int           `env:"RESEND_VERIFICATION_MAX" envDefault:"3"`
	ResendVerificationWin  time.Duration `env:"RESEND_VERIFICATION_WINDOW" envDefault:"1h"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"5m"`
	RateLimitRetention     time.Duration `env:"RATE_LIMIT_RETENTION" envDefault:"1h"`
	LoginThrottleRPS       float64       `env:"LOGIN_THROTTLE_RPS" envDefault:"1"`
	LoginThrottleBurst     int           `env:"LOGIN_THROTTLE_BURST" envDefault:"10"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tokens
	JWTAccessSecret      string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret     string        `env:"JWT_REFRESH_SECRET"`
	JWTIssuer            string        `env:"JWT_ISSUER" envDefault:"authcore"`
	JWTAccessExpiry      time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry     time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"720h"`
	SessionInactivityTTL time.Duration `env:"SESSION_INACTIVITY_TTL" envDefault:"720h"`
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"10m"`
	VerifyTokenTTL       time.Duration `env:"VERIFY_TOKEN_TTL" envDefault:"24h"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// Notifier
	ClientURL     string `env:"CLIENT_URL" envDefault:"http://localhost:5173"`
	MailTransport string `env:"MAIL_TRANSPORT" envDefault:"log"`
	MailRelayURL  string `env:"MAIL_RELAY_URL"`
	MailFrom      string `env:"MAIL_FROM" envDefault:"no-reply@authcore.local"`

	// Identity provider
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL" envDefault:"postmessage"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from the environment (and an optional .env file)
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks ranges and secrets. In development, missing JWT secrets
// fall back to fixed dev values.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	switch c.MailTransport {
	case MailLog:
	case MailHTTP:
		if c.MailRelayURL == "" {
			return fmt.Errorf("MAIL_RELAY_URL is required when MAIL_TRANSPORT=%s", MailHTTP)
		}
	default:
		return fmt.Errorf("unknown MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.IsDevelopment() {
		if c.JWTAccessSecret == "" {
			c.JWTAccessSecret = devAccessSecret
		}
		if c.JWTRefreshSecret == "" {
			c.JWTRefreshSecret = devRefreshSecret
		}
	} else {
		for name, secret := range map[string]string{
			"JWT_ACCESS_SECRET":  c.JWTAccessSecret,
			"JWT_REFRESH_SECRET": c.JWTRefreshSecret,
		} {
			if secret == "" {
				return fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, c.Environment)
			}
			if len(secret) < minSecretLength {
				return fmt.Errorf("%s must be at least %d characters long, got %d", name, minSecretLength, len(secret))
			}
		}
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if c.ForgotPasswordEmailMax < 1 || c.ForgotPasswordIPMax < 1 || c.ForgotPasswordWindow <= 0 {
		return fmt.Errorf("forgot-password limits must be positive")
	}
	if c.ResendVerificationMax < 1 || c.ResendVerificationWin <= 0 {
		return fmt.Errorf("resend-verification limits must be positive")
	}
	if c.RateLimitRetention < c.ForgotPasswordWindow || c.RateLimitRetention < c.ResendVerificationWin {
		return fmt.Errorf("RATE_LIMIT_RETENTION (%s) must cover FORGOT_PASSWORD_WINDOW (%s) and RESEND_VERIFICATION_WINDOW (%s)",
			c.RateLimitRetention, c.ForgotPasswordWindow, c.ResendVerificationWin)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	return nil
}

// Postgres returns the connection settings for pkg/database.
func (c *Config) Postgres() database.PostgresConfig {
	cfg := database.DefaultPostgresConfig()
	cfg.Host = c.PostgresHost
	cfg.Port = c.PostgresPort
	cfg.User = c.PostgresUser
	cfg.Password = c.PostgresPass
	cfg.DBName = c.PostgresDB
	cfg.SSLMode = c.PostgresSSL
	cfg.MaxConns = c.DBMaxConns
	cfg.MinConns = c.DBMinConns
	return cfg
}

// Redis returns the connection settings for pkg/database.
func (c *Config) Redis() database.RedisConfig {
	cfg := database.DefaultRedisConfig()
	cfg.Host = c.RedisHost
	cfg.Port = c.RedisPort
	cfg.Password = c.RedisPassword
	cfg.DB = c.RedisDB
	return cfg
}
