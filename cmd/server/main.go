package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reasoning-trainer/api/rest/handlers"
	"reasoning-trainer/api/rest/routes"
	"reasoning-trainer/config"
	"reasoning-trainer/core/enhancer"
	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/logging"
	"reasoning-trainer/core/monitoring"
	"reasoning-trainer/core/repository"
	"reasoning-trainer/providers/aws"
	"reasoning-trainer/storage"
	"reasoning-trainer/storage/kv"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error").Fatal().Err(err).Msg("Invalid configuration")
	}
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	// Initialize stores
	var (
		jobStore     repository.JobStore
		eventStore   repository.EventStore
		catalogStore storage.DatasetCatalog
	)
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		logger.Info().Msg("Database connected successfully")

		jobStore = repository.NewJobRepository(db)
		eventStore = repository.NewEventRepository(db)
		catalogStore = repository.NewDatasetRepository(db)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, keeping jobs and datasets in memory")
		mem := repository.NewMemoryStore()
		jobStore, eventStore, catalogStore = mem, mem, mem
	}

	registry := repository.NewJobRegistry(jobStore, eventStore, logger)
	if n, err := registry.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to restore training jobs")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("Restored training jobs")
	}

	// Initialize the command channel and inference client
	runner, err := newRunner(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up backend command channel")
	}
	ollama := executor.NewOllamaClient(cfg.OllamaHost, cfg.OllamaModel, 5*time.Minute, logger)
	gateway := executor.NewGateway(runner, ollama, cfg.CommandTimeout, logger)
	defer gateway.Close()

	// Initialize dataset storage
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up dataset storage")
	}
	datasets := storage.NewDatasetManager(blobs, catalogStore, logger)

	// Initialize training executor and monitor
	monitor := monitoring.NewJobMonitor(registry, gateway, cfg.MonitorInterval, cfg.MonitorErrorBackoff, logger)
	trainer := executor.NewTrainingExecutor(gateway, registry, monitor, datasets, executor.TrainingPaths{
		WorkRoot:         cfg.RemoteWorkRoot,
		TrainedModelsDir: cfg.TrainedModelsDir,
		BaseModelPath:    cfg.BaseModelPath,
		PythonBin:        cfg.PythonBin,
	}, logger)

	// Initialize enhancement pipeline
	cache := newCache(ctx, cfg, logger)
	defer cache.Close()
	pipeline := enhancer.NewPipeline(gateway, enhancer.Options{
		DefaultModel:   cfg.OllamaModel,
		ChunkDelay:     cfg.StreamChunkDelay,
		ExpectedChunks: cfg.StreamExpectedChunks,
		Cache:          cache,
		CacheTTL:       cfg.EnhanceCacheTTL,
	}, logger)

	// Initialize cost tracking and backend status
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	hourlyPrice, _ := aws.FallbackHourlyPrice(cfg.EC2InstanceType)
	costTracker := monitoring.NewCostTracker(registry, hourlyPrice, time.Minute, logger)
	go costTracker.Start(workerCtx)

	var instances monitoring.InstanceDescriber
	if awsClient, err := aws.NewClient(ctx, cfg.AWSRegion); err != nil {
		logger.Warn().Err(err).Float64("hourly_price_usd", hourlyPrice).Msg("AWS client unavailable, using fallback pricing")
	} else {
		if cfg.EC2InstanceID != "" {
			instances = awsClient
		}
		refresher := monitoring.NewPriceRefresher(awsClient, costTracker, cfg.EC2InstanceType, 6*time.Hour, logger)
		go refresher.Start(workerCtx)
	}

	metrics := monitoring.NewMetricsExporter(registry, costTracker)
	backend := monitoring.NewBackendChecker(gateway, ollama, instances, cfg.EC2InstanceID, costTracker, logger)

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Handlers{
		Training:  handlers.NewTrainingHandler(trainer, logger),
		Prompts:   handlers.NewPromptHandler(pipeline, logger),
		Models:    handlers.NewModelHandler(trainer, backend),
		Datasets:  handlers.NewDatasetHandler(datasets, logger),
		Dashboard: handlers.NewDashboardHandler(registry, costTracker, metrics),
		Health:    handlers.NewHealthHandler(backend),
	})

	// Start server
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info().Str("port", cfg.ServerPort).Str("environment", cfg.Environment).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	stopWorkers()
	monitor.Shutdown()
	logger.Info().Msg("Server exited")
}

func newRunner(cfg *config.Config, logger arbor.ILogger) (executor.CommandRunner, error) {
	if cfg.BackendMode != config.BackendModeSSH {
		logger.Info().Msg("Running backend commands on this host")
		return executor.NewLocalRunner(), nil
	}
	logger.Info().Str("host", cfg.SSHHost).Str("user", cfg.SSHUser).Msg("Running backend commands over SSH")
	return executor.NewSSHRunnerFromKeyFile(executor.SSHOptions{
		Host:                  cfg.SSHHost,
		User:                  cfg.SSHUser,
		KnownHostsFile:        cfg.SSHKnownHosts,
		InsecureIgnoreHostKey: cfg.SSHInsecure,
		DialTimeout:           cfg.CommandTimeout,
	}, cfg.SSHKeyPath, logger)
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	if cfg.S3Endpoint == "" {
		return storage.NewLocalBlobStore(cfg.DatasetsDir)
	}
	store, err := storage.NewS3BlobStore(storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.AWSRegion,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// newCache falls back to an in-process cache when Redis is not configured or
// cannot be reached
func newCache(ctx context.Context, cfg *config.Config, logger arbor.ILogger) kv.Store {
	if cfg.RedisAddr == "" {
		return kv.NewMemoryStore()
	}
	store, err := kv.NewRedisStore(ctx, kv.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, caching enhancements in memory")
		return kv.NewMemoryStore()
	}
	return store
}
