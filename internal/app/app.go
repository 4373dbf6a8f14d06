package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/authcore/internal/auth"
	"github.com/utafrali/authcore/internal/config"
	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/event"
	handler "github.com/utafrali/authcore/internal/handler/http"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/notifier"
	"github.com/utafrali/authcore/internal/ratelimit"
	"github.com/utafrali/authcore/internal/repository"
	"github.com/utafrali/authcore/internal/repository/memory"
	"github.com/utafrali/authcore/internal/repository/postgres"
	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/internal/worker"
	"github.com/utafrali/authcore/migrations"
	"github.com/utafrali/authcore/pkg/database"
	"github.com/utafrali/authcore/pkg/health"
	"github.com/utafrali/authcore/pkg/httpclient"
	pkgkafka "github.com/utafrali/authcore/pkg/kafka"
	"github.com/utafrali/authcore/pkg/middleware"
	"github.com/utafrali/authcore/pkg/tracing"
)

const serviceName = "auth"

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	windows        *ratelimit.FixedWindow
	authService    *service.AuthService
	sweeper        *worker.Sweeper
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

type stores struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   repository.OneTimeTokenRepository
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracingCfg := tracing.DefaultConfig(serviceName)
	tracingCfg.Environment = cfg.Environment
	tracingCfg.OTLPEndpoint = cfg.OTELEndpoint
	tracingCfg.Insecure = cfg.OTELInsecure
	tracingCfg.SampleRate = cfg.OTELSampleRate
	tracingCfg.Enabled = cfg.OTELEnabled

	tracerShutdown, err := tracing.InitTracer(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	st, err := a.openStore(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	limiter, err := a.openLimiter(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	var publisher event.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessExpiry,
		RefreshTTL:    cfg.JWTRefreshExpiry,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	// Outbound HTTP: the mail relay and Google each get their own breaker.
	googleClient := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("google"),
		logger,
	)

	var transport notifier.Transport = notifier.NewLogTransport(logger)
	if cfg.MailTransport == config.MailHTTP {
		relayClient := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("mail-relay"),
			logger,
		)
		transport = notifier.NewHTTPTransport(relayClient, cfg.MailRelayURL)
	}

	sessions := service.NewSessionRegistry(st.sessions, cfg.SessionInactivityTTL)
	ledger := service.NewLedger(st.tokens, map[domain.Purpose]time.Duration{
		domain.PurposePasswordReset:     cfg.ResetTokenTTL,
		domain.PurposeEmailVerification: cfg.VerifyTokenTTL,
	})

	forgotGuard := ratelimit.NewGuard(limiter, "forgot_password",
		ratelimit.Rule{Max: cfg.ForgotPasswordIPMax, Window: cfg.ForgotPasswordWindow},
		ratelimit.Rule{Max: cfg.ForgotPasswordEmailMax, Window: cfg.ForgotPasswordWindow},
		logger,
	)
	resendRule := ratelimit.Rule{Max: cfg.ResendVerificationMax, Window: cfg.ResendVerificationWin}
	resendGuard := ratelimit.NewGuard(limiter, "resend_verification", resendRule, resendRule, logger)

	a.authService = service.NewAuthService(service.Deps{
		Users:    st.users,
		Sessions: sessions,
		Ledger:   ledger,
		Issuer:   issuer,
		Mailer:   notifier.NewMailer(transport, cfg.ClientURL, cfg.MailFrom),
		Google: identity.NewGoogle(identity.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, googleClient),
		Events:      event.NewProducer(publisher, logger),
		ForgotGuard: forgotGuard,
		ResendGuard: resendGuard,
	}, service.Config{BcryptCost: cfg.BcryptCost}, logger)

	a.sweeper = worker.NewSweeper(cfg.SweepInterval, logger,
		worker.Task{Name: "sessions", Sweep: sessions.Sweep},
		worker.Task{Name: "one_time_tokens", Sweep: ledger.Sweep},
	)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(a.authService, healthHandler, logger, handler.RouterConfig{
		ServiceName:       serviceName,
		CORS:              corsCfg,
		ThrottleRPS:       cfg.LoginThrottleRPS,
		ThrottleBurst:     cfg.LoginThrottleBurst,
		PprofCIDRs:        cfg.PprofAllowedCIDRs,
		TrustedProxyCIDRs: cfg.TrustedProxyCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// openStore connects the credential store selected by STORE_BACKEND.
func (a *App) openStore(ctx context.Context, hh *health.Handler) (stores, error) {
	if a.cfg.StoreBackend == config.BackendMemory {
		a.logger.Warn("using in-memory credential store; data is lost on restart")
		m := memory.NewStore()
		return stores{users: m.Users(), sessions: m.Sessions(), tokens: m.Tokens()}, nil
	}

	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return stores{}, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		return stores{}, fmt.Errorf("register pool metrics: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return stores{}, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if a.cfg.DBSlowQuery > 0 {
		database.SetSlowQueryLogging(a.cfg.DBSlowQuery, a.logger)
	}

	hh.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return stores{
		users:    postgres.NewUserRepository(pool),
		sessions: postgres.NewSessionRepository(pool),
		tokens:   postgres.NewOneTimeTokenRepository(pool),
	}, nil
}

// openLimiter builds the fixed-window limiter selected by RATE_LIMIT_BACKEND.
func (a *App) openLimiter(ctx context.Context, hh *health.Handler) (ratelimit.Limiter, error) {
	if a.cfg.RateLimitBackend != config.BackendRedis {
		a.windows = ratelimit.NewFixedWindow(a.cfg.RateLimitRetention)
		return a.windows, nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))

	// The limiter fails open, so Redis being down does not take the service out of rotation.
	hh.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return ratelimit.NewRedis(client), nil
}

// Run starts the HTTP server and background workers and blocks until the
// context is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	if a.windows != nil {
		g.Go(func() error {
			a.windows.Run(gctx, a.cfg.RateLimitSweepInterval, a.logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Background emails started by drained requests
// 3. Tracer (flush pending spans)
// 4. Kafka producer
// 5. PostgreSQL pool and Redis client
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Let welcome and verification emails finish; each is bounded by its own timeout.
	a.authService.Wait()

	// 3. Flush pending spans after the drain so request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4, 5.
	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() []error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errs
}
