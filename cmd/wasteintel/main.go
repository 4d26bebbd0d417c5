package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/api"
	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/config"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/session"
	"github.com/platinummonkey/wasteintel/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("wasteintel exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Credential store
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return err
	}
	conns.StartHealthCheckRoutine(ctx, 30*time.Second)

	if cfg.Database.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, conns.Primary()); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
		logger.Info("Database schema is up to date")
	}
	store := postgres.NewStore(conns.Primary(),
		postgres.WithQueryTimeout(cfg.Database.QueryTimeout),
		postgres.WithMetrics(metrics),
	)

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return err
		}
		logger.Info("Connected to Redis")
	}

	// Audit trail
	dbSink, err := audit.NewDBSink(conns.Primary(), audit.WithReader(conns.Replica()))
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(
		audit.NewMultiSink(dbSink, audit.NewLogSink(logger)),
		audit.RecorderConfig{
			BufferSize:   cfg.Audit.BufferSize,
			Workers:      cfg.Audit.Workers,
			WriteTimeout: cfg.Audit.WriteTimeout,
		},
		logger, metrics,
	)

	// Rate/anomaly guard
	rl := cfg.RateLimit
	whitelist, err := guard.NewWhitelist(rl.WhitelistedIPs)
	if err != nil {
		return fmt.Errorf("invalid IP whitelist: %w", err)
	}
	if rl.WhitelistFile != "" {
		if err := guard.WatchWhitelist(ctx, rl.WhitelistFile, rl.WhitelistedIPs, whitelist, logger); err != nil {
			return err
		}
	}
	g := guard.New(guard.Config{
		BlockAfterThrottles: rl.BlockAfterThrottles,
		BlockDuration:       rl.BlockDuration,
		BruteForceThreshold: rl.BruteForceThreshold,
		BruteForceReset:     rl.BruteForceReset,
	}, whitelist, metrics, logger)

	general := middleware.RateLimitConfig{Window: rl.Window, MaxRequests: rl.MaxRequests, Message: rl.Message}
	authLimit := middleware.RateLimitConfig{Window: rl.AuthWindow, MaxRequests: rl.AuthMaxRequests}
	if rl.Distributed {
		general.Limiter = guard.NewRedisWindow(redisClient, "wasteintel:rl:general", rl.Window, rl.MaxRequests,
			guard.NewSlidingWindow(rl.Window, rl.MaxRequests)).WithObservability(metrics, logger)
		authLimit.Limiter = guard.NewRedisWindow(redisClient, "wasteintel:rl:auth", rl.AuthWindow, rl.AuthMaxRequests,
			guard.NewSlidingWindow(rl.AuthWindow, rl.AuthMaxRequests)).WithObservability(metrics, logger)
	}

	// Sessions and access
	tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	// the general limiter runs ahead of the router, so it reads the caller from the token itself
	general.Identity = middleware.TokenSubject(tokens)
	generalLimiter := middleware.NewRateLimiter(g, general)
	sessions := session.NewService(store, tokens, recorder,
		session.WithPolicy(session.Policy{
			SessionTTL:       cfg.Auth.SessionTTL,
			RefreshTTL:       cfg.Auth.RefreshTTL,
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockoutDuration:  cfg.Auth.LockoutDuration,
			BcryptCost:       cfg.Auth.BcryptCost,
		}),
		session.WithFailureTracker(g),
		session.WithServiceMetrics(metrics),
		session.WithServiceLogger(logger),
	)
	validator := session.NewValidator(tokens, store, store,
		session.WithTimeout(cfg.Auth.ValidationTimeout),
		session.WithValidatorMetrics(metrics),
		session.WithValidatorLogger(logger),
	)
	resolver := access.NewResolver(store, store, recorder,
		access.WithCache(cfg.Access.CacheSize, cfg.Access.CacheTTL),
		access.WithMetrics(metrics),
		access.WithLogger(logger),
	)

	var oidcHandlers *api.OIDCHandlers
	if cfg.OIDC.Enabled {
		provider, err := session.NewOIDCProvider(ctx, session.OIDCConfig{
			IssuerURL:    cfg.OIDC.IssuerURL,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       cfg.OIDC.Scopes,
		})
		if err != nil {
			return err
		}
		oidcHandlers = api.NewOIDCHandlers(provider, sessions, true)
		logger.WithField("issuer", cfg.OIDC.IssuerURL).Info("OIDC sign-in enabled")
	}

	server := api.NewServer(api.Dependencies{
		Auth:          api.NewAuthHandlers(sessions),
		Grants:        api.NewGrantHandlers(resolver),
		Invitations:   api.NewInvitationHandlers(access.NewInvitations(store, resolver, recorder, cfg.Auth.InvitationTTL)),
		Admin:         api.NewAdminHandlers(sessions, g, recorder),
		OIDC:          oidcHandlers,
		Audit:         audit.NewHandlers(dbSink),
		Authn:         middleware.NewAuthenticator(validator, access.NewBuilder(store, resolver), recorder, logger),
		Authz:         middleware.NewAuthorizer(resolver, recorder, logger),
		Guard:         g,
		Metrics:       metrics,
		AuthRateLimit: authLimit,
	})

	var cleaners []guard.Cleaner
	for _, c := range []guard.Cleaner{generalLimiter.Cleaner(), server.Cleaner()} {
		if c != nil {
			cleaners = append(cleaners, c)
		}
	}
	g.RunCleanup(ctx, time.Minute, cleaners...)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(cfg.Server.TrustedProxies),
		httputil.RecoveryMiddleware,
		httputil.LoggerMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxPayloadBytes),
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		generalLimiter.Middleware,
	)(server)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(handler, "wasteintel"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(conns.Primary(), redisClient).
		WithVersion(cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc("audit recorder", recorder.Close)
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return conns.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting wasteintel access API")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := <-errCh; err != nil {
			logger.WithError(err).Error("Server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}
