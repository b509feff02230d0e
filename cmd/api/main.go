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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shelfsort/api/internal/catalog"
	"github.com/shelfsort/api/internal/di"
	"github.com/shelfsort/api/internal/handlers"
	"github.com/shelfsort/api/internal/platform/config"
	pfirestore "github.com/shelfsort/api/internal/platform/firestore"
	"github.com/shelfsort/api/internal/platform/idempotency"
	"github.com/shelfsort/api/internal/platform/jobs"
	"github.com/shelfsort/api/internal/platform/observability"
	"github.com/shelfsort/api/internal/platform/secrets"
	platformstorage "github.com/shelfsort/api/internal/platform/storage"
	"github.com/shelfsort/api/internal/repositories"
	firestoreRepo "github.com/shelfsort/api/internal/repositories/firestore"
	"github.com/shelfsort/api/internal/services"
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

	logger := baseLogger.Named("resort-api")
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
		config.WithRequiredSecrets("Catalog.AccessToken"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var publisher services.ResortEventPublisher
	var resortTopic *pubsub.Topic
	if !cfg.PubSub.PublishDisabled && strings.TrimSpace(cfg.PubSub.ResortTopicID) != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		resortTopic = pubsubClient.Topic(cfg.PubSub.ResortTopicID)
		defer resortTopic.Stop()
		publisher, err = jobs.NewPubSubResortPublisher(resortTopic)
		if err != nil {
			logger.Fatal("failed to initialise resort publisher", zap.Error(err))
		}
	}

	var archiver services.SnapshotArchiver
	if bucket := strings.TrimSpace(cfg.Storage.SnapshotsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		archiver, err = platformstorage.NewSnapshotArchiver(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise snapshot archiver", zap.Error(err))
		}
	}

	runMetrics, err := observability.NewResortRunMetrics()
	if err != nil {
		logger.Warn("resort run metrics init failed", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreClient, fetcher, resortTopic)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreRepo.RegistryDeps{
		Provider: firestoreProvider,
		Health:   healthRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	catalogClient, err := catalog.NewAdminClient(catalog.AdminClientConfig{
		Endpoint:    cfg.Catalog.Endpoint,
		AccessToken: cfg.Catalog.AccessToken,
		PageSize:    cfg.Catalog.PageSize,
		HTTPClient:  &http.Client{Timeout: cfg.Catalog.Timeout},
		Logger:      catalog.Logger(zapServiceLogger(logger.Named("catalog"))),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog admin client", zap.Error(err))
	}

	deps := di.ContainerDeps{
		Registry: registry,
		Catalog:  catalogClient,
		Logger:   zapServiceLogger(logger.Named("services")),
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	if runMetrics != nil {
		deps.Metrics = runMetrics
	}

	container, err := di.NewContainer(ctx, cfg, deps)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
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

	resortOpts := []handlers.ResortHandlerOption{
		handlers.WithResortRateLimit(10, time.Minute),
	}
	if key := strings.TrimSpace(cfg.Storage.SignedURLKey); key != "" && strings.TrimSpace(cfg.Storage.SnapshotsBucket) != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(key))
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		signedURLClient, err := platformstorage.NewClient(signer)
		if err != nil {
			logger.Fatal("failed to initialise signed url client", zap.Error(err))
		}
		resortOpts = append(resortOpts, handlers.WithSnapshotDownloads(signedURLClient, cfg.Storage.SnapshotsBucket))
	}
	resortHandlers := handlers.NewResortHandlers(container.Services.Resort, resortOpts...)
	settingsHandlers := handlers.NewSettingsHandlers(container.Services.Settings)
	healthHandlers := handlers.NewHealthHandlers(registry.Health(),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	collectionRoutes := handlers.RegistrarFunc(func(r chi.Router) {
		resortHandlers.Routes(r)
		settingsHandlers.Routes(r)
	})

	// The resort trigger holds its request for the reconciler's full polling
	// budget, so the per-request timeout must outlast it.
	requestTimeout := time.Duration(cfg.Resort.PollAttempts)*cfg.Resort.PollInterval + 30*time.Second

	router := handlers.NewRouter(
		handlers.WithRequestTimeout(requestTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthRoutes(healthHandlers),
		handlers.WithCollectionRoutes(collectionRoutes, handlers.ShopMiddleware, idempotencyMiddleware),
		handlers.WithRunRoutes(resortHandlers.RunRegistrar(), handlers.ShopMiddleware),
	)

	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout > 0 && writeTimeout < requestTimeout {
		writeTimeout = requestTimeout
	}
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("shelfsort resort api listening")
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
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// zapServiceLogger adapts a zap logger to the event-plus-fields contract the
// service layer logs through.
func zapServiceLogger(logger *zap.Logger) services.Logger {
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["RESORT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["RESORT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["RESORT_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
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
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				exists, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return errors.New("resort topic does not exist")
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("RESORT_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("RESORT_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("RESORT_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("RESORT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("RESORT_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
