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
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nihonselect/api/internal/di"
	"github.com/nihonselect/api/internal/handlers"
	"github.com/nihonselect/api/internal/payments"
	"github.com/nihonselect/api/internal/platform/auth"
	"github.com/nihonselect/api/internal/platform/cache"
	"github.com/nihonselect/api/internal/platform/config"
	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/platform/idempotency"
	"github.com/nihonselect/api/internal/platform/jobs"
	"github.com/nihonselect/api/internal/platform/observability"
	"github.com/nihonselect/api/internal/platform/secrets"
	platformstorage "github.com/nihonselect/api/internal/platform/storage"
	"github.com/nihonselect/api/internal/repositories"
	firestoreRepo "github.com/nihonselect/api/internal/repositories/firestore"
	"github.com/nihonselect/api/internal/services"
	"github.com/nihonselect/api/internal/translate"
)

const (
	authMeterName             = "github.com/nihonselect/api/internal/platform/auth"
	checkoutAttemptsPerMinute = 20
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
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

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
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	gateway, err := payments.NewGateway(payments.GatewayConfig{
		SecretKey:   cfg.Payments.StripeSecretKey,
		Mode:        cfg.Payments.Mode,
		Environment: cfg.Security.Environment,
		Breaker: payments.BreakerSettings{
			ConsecutiveFails: uint32(cfg.Payments.BreakerFailures),
			OpenTimeout:      cfg.Payments.BreakerOpenTimeout,
		},
		Logger: observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to select payment gateway", zap.Error(err))
	}
	if gateway.Mode() == payments.ModeDemo {
		logger.Warn("payments running in demo mode; no money will move")
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, gateway.Mode(), startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)

	extraChecks := []repositories.DependencyCheck{secretManagerCheck(fetcher)}
	if probe := payments.HealthCheck(gateway); probe != nil {
		extraChecks = append(extraChecks, repositories.DependencyCheck{Name: "paymentProcessor", Check: probe})
	}

	var pageCache *cache.PageCache
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		pageCache, err = cache.NewPageCache(redisClient, cache.WithTTL(cfg.Cache.TTL))
		if err != nil {
			logger.Fatal("failed to initialise page cache", zap.Error(err))
		}
		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name:  "redis",
			Check: pageCache.Ping,
		})
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, extraChecks)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var events services.OrderEventPublisher
	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" && cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubOrderEventPublisher(pubsubClient.Topic(topicName))
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		events = publisher
	} else {
		logger.Info("order event publishing disabled")
	}

	var productImages *platformstorage.ProductImages
	if bucket := strings.TrimSpace(cfg.Storage.ProductImagesBucket); bucket != "" {
		signer, err := platformstorage.NewSignerFromSecret(cfg.Storage.SignerEmail, cfg.Storage.SignedURLKey)
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		signedURLClient, err := platformstorage.NewClient(signer)
		if err != nil {
			logger.Fatal("failed to initialise signed url client", zap.Error(err))
		}
		productImages, err = platformstorage.NewProductImages(signedURLClient, bucket,
			platformstorage.WithUploadTTL(cfg.Storage.SignedURLTTL),
			platformstorage.WithMaxUploadSize(cfg.Storage.MaxUploadBytes))
		if err != nil {
			logger.Fatal("failed to initialise product image uploads", zap.Error(err))
		}
	}

	translator, err := translate.New()
	if err != nil {
		logger.Fatal("failed to load translation rules", zap.Error(err))
	}

	adapters := di.Adapters{
		Gateway:    gateway,
		Events:     events,
		Images:     productImages,
		Translator: translator,
		Logger:     observability.EventLogger(logger.Named("services")),
		Build:      buildInfo,
	}
	if pageCache != nil {
		adapters.Cache = pageCache
	}
	container, err := di.NewContainer(cfg, registry, adapters)
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

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	svc := container.Services
	productHandlers := handlers.NewProductHandlers(svc.Catalog)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, idempotencyMiddleware,
		handlers.WithCheckoutRateLimit(checkoutAttemptsPerMinute, time.Minute),
		handlers.WithCheckoutPublishableKey(cfg.Payments.StripePublishableKey))
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, idempotencyMiddleware)
	adminHandlers := handlers.NewAdminHandlers(authenticator, handlers.AdminServices{
		Admins:            svc.Admins,
		Orders:            svc.Orders,
		Catalog:           svc.Catalog,
		Profit:            svc.Profit,
		ReportingLocation: container.ReportingLocation,
	})
	internalHandlers := handlers.NewInternalJobHandlers(idempotencyStore)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.RequestLoggerMiddleware(httpLogger, projectID),
			observability.RecoveryMiddleware(httpLogger),
		),
		handlers.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithStorefrontRoutes(productHandlers.Routes, checkoutHandlers.Routes, orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		// Admin responses carry customer contact details.
		handlers.WithAdminMiddlewares(middleware.NoCache),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr), zap.String("payment_mode", string(gateway.Mode())))
	go func() {
		serverLogger.Info("nihonselect api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, mode payments.Mode, started time.Time) services.BuildInfo {
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
		PaymentMode: string(mode),
		StartedAt:   started,
	}
}

// secretManagerCheck reports Secret Manager reachability. A missing probe secret still proves
// the API answered.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
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

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []auth.OIDCOption{auth.WithOIDCLogger(logger)}
	recorder, err := auth.NewOTelRecorder(otel.GetMeterProvider().Meter(authMeterName))
	if err != nil {
		logger.Warn("auth: unable to register OIDC metrics", zap.Error(err))
	} else {
		opts = append(opts, auth.WithOIDCRecorder(recorder))
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, opts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(auth.ServicePolicy{
		Audience: audience,
		Issuers:  cfg.Security.OIDC.Issuers,
		Emails:   cfg.Security.OIDC.ServiceAccounts,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for label, project := range projectMap {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve before the server starts. Live
// payments need the Stripe key; image uploads need the signing key.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	mode := strings.ToLower(strings.TrimSpace(env["API_PAYMENTS_MODE"]))
	if mode == payments.SelectLive || payments.IsProductionEnvironment(env["API_SECURITY_ENVIRONMENT"]) {
		required = append(required, "Payments.StripeSecretKey")
	}
	if strings.TrimSpace(env["API_STORAGE_PRODUCT_IMAGES_BUCKET"]) != "" {
		required = append(required, "Storage.SignedURLKey")
	}
	return uniqueStrings(required)
}

func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
