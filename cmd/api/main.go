package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/medimart/api/internal/di"
	"github.com/medimart/api/internal/handlers"
	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/platform/config"
	"github.com/medimart/api/internal/platform/database"
	"github.com/medimart/api/internal/platform/idempotency"
	"github.com/medimart/api/internal/platform/jobs"
	"github.com/medimart/api/internal/platform/observability"
	"github.com/medimart/api/internal/platform/secrets"
	"github.com/medimart/api/internal/repositories"
	"github.com/medimart/api/internal/repositories/postgres"
	"github.com/medimart/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
	}

	checks := []repositories.DependencyCheck{{Name: "database", Check: db.Ping}}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	notifier, closeNotifier, err := newOrderStatusNotifier(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order status notifier", zap.Error(err))
	}
	defer closeNotifier()

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	registry, err := postgres.NewRegistry(db, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithBuildInfo(buildInfo),
		di.WithEventLoggers(func(component string) func(context.Context, string, map[string]any) {
			return observability.NewEventLogger(logger, component)
		}),
	}
	if notifier != nil {
		containerOpts = append(containerOpts, di.WithNotifier(notifier))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyMiddleware := idempotency.Middleware(
		newIdempotencyStore(logger, cfg, redisClient),
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	oidcMiddleware, err := buildOIDCMiddleware(logger.Named("auth"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise oidc validator", zap.Error(err))
	}

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Checkout, svc.Orders,
		handlers.WithPromotionValidation(svc.Promotions, container.Pricing),
		handlers.WithPaymentStart(svc.Payments),
		handlers.WithIdempotency(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders)
	paymentHandlers := handlers.NewPaymentCallbackHandlers(svc.Payments)
	internalHandlers := handlers.NewInternalHandlers(svc.Orders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(oidcMiddleware),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("medimart api listening",
			zap.String("version", buildInfo.Version),
			zap.Strings("gateways", enabledGateways(cfg)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields that must resolve to a value.
// Gateway hash secrets are required only for gateways with a merchant code configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Database.DSN"}
	gateways := map[string]string{
		config.GatewayA: "API_GATEWAY_A_TMN_CODE",
		config.GatewayB: "API_GATEWAY_B_TMN_CODE",
	}
	for name, key := range gateways {
		if strings.TrimSpace(env[key]) != "" {
			required = append(required, fmt.Sprintf("Payments.Gateways[%s].HashSecret", name))
		}
	}
	if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	sort.Strings(required)
	return required
}

func newIdempotencyStore(logger *zap.Logger, cfg config.Config, client *redis.Client) idempotency.Store {
	if client == nil {
		logger.Warn("idempotency: redis not configured; using in-process store")
		return idempotency.NewMemoryStore()
	}
	store, err := idempotency.NewRedisStore(client, idempotency.WithKeyPrefix(cfg.Idempotency.KeyPrefix))
	if err != nil {
		logger.Warn("idempotency: redis store unavailable; using in-process store", zap.Error(err))
		return idempotency.NewMemoryStore()
	}
	return store
}

// newOrderStatusNotifier returns a nil notifier when Pub/Sub is not configured.
func newOrderStatusNotifier(ctx context.Context, cfg config.Config) (services.OrderStatusNotifier, func(), error) {
	noop := func() {}
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	topicName := strings.TrimSpace(cfg.PubSub.OrderStatusTopic)
	if projectID == "" || topicName == "" {
		return nil, noop, nil
	}

	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, noop, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	notifier, err := jobs.NewPubSubOrderStatusNotifier(topic)
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return notifier, func() {
		topic.Stop()
		_ = client.Close()
	}, nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) (func(http.Handler) http.Handler, error) {
	oidc := cfg.Security.OIDC
	cache := auth.NewJWKSCache(oidc.JWKSURL)
	validator, err := auth.NewOIDCValidator(cache, observability.NewPrintfAdapter(logger))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(oidc.ServiceAccounts) == 0 {
		logger.Warn("auth: OIDC service accounts not restricted; any caller signed for the audience is accepted")
	}
	return validator.RequireOIDC(auth.OIDCPolicy{
		Audience: oidc.Audience,
		Issuers:  oidc.Issuers,
		Emails:   oidc.ServiceAccounts,
	}), nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firebase.ProjectID)
}

func enabledGateways(cfg config.Config) []string {
	var names []string
	for name, gw := range cfg.Payments.Gateways {
		if gw.Enabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
