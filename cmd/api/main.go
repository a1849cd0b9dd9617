package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dingdong-ecommerce/api/internal/di"
	"github.com/dingdong-ecommerce/api/internal/handlers"
	"github.com/dingdong-ecommerce/api/internal/platform/auth"
	"github.com/dingdong-ecommerce/api/internal/platform/config"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/platform/idempotency"
	"github.com/dingdong-ecommerce/api/internal/platform/jobs"
	"github.com/dingdong-ecommerce/api/internal/platform/metrics"
	"github.com/dingdong-ecommerce/api/internal/platform/observability"
	"github.com/dingdong-ecommerce/api/internal/platform/requestctx"
	"github.com/dingdong-ecommerce/api/internal/platform/secrets"
	"github.com/dingdong-ecommerce/api/internal/repositories"
	firestoreRepo "github.com/dingdong-ecommerce/api/internal/repositories/firestore"
	"github.com/dingdong-ecommerce/api/internal/repositories/memory"
	redisRepo "github.com/dingdong-ecommerce/api/internal/repositories/redis"
	"github.com/dingdong-ecommerce/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{Version: envOr("API_BUILD_VERSION", "dev"), StartedAt: startedAt}
	metricsRegistry := metrics.New()

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisRepo.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	registry, err := newRegistry(ctx, logger, cfg, redisClient, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var pendingCoupons repositories.PendingCouponStore = memory.NewPendingCouponStore(time.Now)
	if redisClient != nil {
		pendingCoupons = redisRepo.NewPendingCouponStore(redisClient, time.Now)
	}

	events, closeEvents, err := newEventPublisher(ctx, logger, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer closeEvents()

	infra := di.Infrastructure{
		PendingCoupons: pendingCoupons,
		Events:         events,
		Metrics:        metricsRegistry,
		Logger:         logger,
		Clock:          time.Now,
		Build:          buildInfo,
	}
	paymentManager, err := di.NewPaymentManager(cfg.Payments, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	if paymentManager != nil {
		infra.Payments = paymentManager
	} else {
		logger.Warn("no payment gateway configured; online payments are disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	authenticator, err := newAuthenticator(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	authLogger := observability.NewPrintfAdapter(logger.Named("auth"))
	var nonces auth.NonceStore = auth.NewMemoryNonceStore()
	if redisClient != nil {
		nonces = redisRepo.NewNonceStore(redisClient, time.Now)
	}
	hmacValidator := auth.NewHMACValidator(
		auth.SecretProviderFunc(staticSecretProvider(cfg.Security.HMAC.Secrets)),
		nonces,
		auth.WithHMACLogger(authLogger),
		auth.WithHMACMetrics(metricsRegistry),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
	)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, metricsRegistry)

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if redisClient != nil {
		idempotencyStore = idempotency.NewRedisStore(redisClient)
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	currency := cfg.Storefront.Currency
	cartHandlers := handlers.NewCartHandlers(svc.Cart, currency)
	checkoutOpts := []handlers.CheckoutOption{handlers.WithPlacementIdempotency(idempotencyMiddleware)}
	if redisClient != nil {
		checkoutOpts = append(checkoutOpts, handlers.WithCouponLimiter(
			redisRepo.NewAttemptLimiter(redisClient, handlers.CouponAttemptLimit, handlers.CouponAttemptWindow),
		))
	}
	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Checkout, svc.Coupons, currency, checkoutOpts...)
	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Returns, time.Now)
	meHandlers := handlers.NewMeHandlers(svc.Wallets, svc.Addresses)
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminDeps{
		Orders:  svc.Orders,
		Returns: svc.Returns,
		Coupons: svc.Coupons,
		Catalog: svc.Catalog,
		Clock:   time.Now,
	})
	webhookHandlers := handlers.NewWebhookHandlers(svc.Checkout, hmacValidator, di.ProviderNames(cfg.Payments))
	internalHandlers := handlers.NewInternalHandlers(svc.Orders, time.Now)
	healthHandlers := handlers.NewHealthHandlers(svc.System, handlers.WithHealthStartedAt(startedAt))

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			metricsRegistry.Middleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metricsRegistry.Handler()),
		handlers.WithShopperMiddlewares(authenticator.RequireFirebaseAuth()),
		handlers.WithShopperRoutes(cartHandlers.Routes, checkoutHandlers.Routes, orderHandlers.Routes, meHandlers.Routes),
		handlers.WithAdminMiddlewares(authenticator.RequireFirebaseAuth(), auth.RequireRoles(auth.RoleAdmin), handlers.NoStore),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalMiddlewares(oidcMiddleware),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	var sweepWG sync.WaitGroup
	if interval := cfg.Storefront.ExpirySweepInterval; interval > 0 {
		sweepWG.Add(1)
		go func() {
			defer sweepWG.Done()
			runExpirySweeper(sweepCtx, logger.Named("expiry"), svc.Orders, interval)
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("persistence", cfg.Persistence.Driver),
			zap.String("events", cfg.Events.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := envOr("API_SECRETS_PROJECT_ID", os.Getenv("API_FIREBASE_PROJECT_ID"))
	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger),
	}
	if path := strings.TrimSpace(os.Getenv("API_SECRETS_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func newRegistry(ctx context.Context, logger *zap.Logger, cfg config.Config, redisClient *goredis.Client, fetcher *secrets.Fetcher) (repositories.Registry, error) {
	if cfg.Persistence.Driver == config.PersistenceMemory {
		opts := []memory.Option{memory.WithClock(time.Now)}
		if path := cfg.Persistence.SeedFile; path != "" {
			seed, err := memory.LoadSeedFile(path)
			if err != nil {
				return nil, err
			}
			opts = append(opts, memory.WithSeed(seed))
			logger.Info("memory store seeded", zap.String("file", path))
		}
		return memory.NewStore(opts...), nil
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	checks := []repositories.DependencyCheck{secretManagerCheck(fetcher)}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Critical: true,
			Check:    redisRepo.Ping(redisClient),
		})
	}
	return firestoreRepo.NewRegistry(provider, firestoreRepo.WithHealthChecks(checks...))
}

// secretManagerCheck treats a missing probe secret as healthy: only reachability matters.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const probe = "secret://system/healthz"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.ResolveSecret(ctx, probe)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.EventsConfig) (services.OrderEventPublisher, func(), error) {
	switch cfg.Driver {
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSubTopic)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			publisher.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}, nil
	case config.EventsRabbitMQ:
		publisher, err := jobs.DialAMQPOrderEventPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, nil, err
		}
		return publisher, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("rabbitmq close error", zap.Error(err))
			}
		}, nil
	default:
		return jobs.NewLogOrderEventPublisher(logger.Named("events")), func() {}, nil
	}
}

func newAuthenticator(ctx context.Context, cfg config.FirebaseConfig) (*auth.Authenticator, error) {
	if len(cfg.StaticTokens) > 0 {
		verifier, err := auth.NewStaticVerifier(cfg.StaticTokens)
		if err != nil {
			return nil, err
		}
		return auth.NewAuthenticator(verifier), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier), nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.MetricsRecorder) func(http.Handler) http.Handler {
	oidcCfg := cfg.Security.OIDC
	if strings.TrimSpace(oidcCfg.Audience) == "" {
		logger.Warn("oidc audience not configured; internal routes will reject every request")
	}
	validator := auth.NewOIDCValidator(
		auth.NewJWKSCache(oidcCfg.JWKSURL),
		auth.WithOIDCLogger(observability.NewPrintfAdapter(logger)),
		auth.WithOIDCMetrics(recorder),
	)
	return validator.RequireOIDC(oidcCfg.Audience, oidcCfg.Issuers)
}

func staticSecretProvider(secretsByName map[string]string) func(context.Context, string) (string, error) {
	return func(_ context.Context, name string) (string, error) {
		secret, ok := secretsByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok || secret == "" {
			return "", fmt.Errorf("hmac secret %q not configured", name)
		}
		return secret, nil
	}
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firestore.ProjectID != "" {
		return cfg.Firestore.ProjectID
	}
	return cfg.Firebase.ProjectID
}

func runExpirySweeper(ctx context.Context, logger *zap.Logger, orders services.OrderService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			result, err := orders.ExpireUnpaid(runCtx, time.Now().UTC())
			cancel()
			if err != nil {
				logger.Error("unpaid order sweep failed", zap.Error(err))
				continue
			}
			if len(result.Expired) > 0 || len(result.Failed) > 0 {
				logger.Info("unpaid order sweep finished",
					zap.Int("expired", len(result.Expired)),
					zap.Int("failed", len(result.Failed)),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
