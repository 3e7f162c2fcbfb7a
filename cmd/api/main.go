package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/generation"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/providers"
	"server/internal/providers/mureka"
	"server/internal/providers/suno"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	provs, err := buildProviders(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize providers")
	}

	jobs := repo.NewJobRepository(dbpool)
	tracks := repo.NewTrackRepository(dbpool)
	locks := repo.NewLockRepository(dbpool)
	rates := repo.NewRateLimitRepository(dbpool)

	limiter := generation.NewLimiter(rates, map[domain.Service]generation.RatePolicy{
		domain.ServiceSuno:   {Window: cfg.SunoRateWindow, Max: cfg.SunoRateLimit},
		domain.ServiceMureka: {Window: cfg.MurekaRateWindow, Max: cfg.MurekaRateLimit},
	}, logger)

	pipeline := ingest.NewPipeline(jobs, tracks, locks, store, &http.Client{}, ingest.Options{
		LockTTL:         cfg.IngestLockTTL,
		DownloadTimeout: cfg.ProviderTimeout,
	}, logger)

	queue := ingest.NewQueue(pipeline, cfg.IngestQueueSize, logger)
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	queue.Start(workerCtx, cfg.IngestWorkers)
	defer queue.Close()

	reconciler := ingest.NewReconciler(jobs, tracks, queue, logger)
	coordinator := ingest.NewCoordinator(pipeline, reconciler, logger)

	svc := generation.NewService(provs, jobs, limiter, coordinator, logger)

	app := &handlers.App{
		Generations: svc,
		Jobs:        jobs,
		Tracks:      tracks,
		Ingest:      pipeline,
		Store:       store,
		Poll: generation.PollOptions{
			MaxAttempts: cfg.PollMaxAttempts,
			MaxWait:     cfg.PollMaxWait,
		},
		Logger: logger,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: []string{"*"},
		StaticDir:      cfg.StoragePath,
		Logger:         logger,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func buildProviders(cfg *infra.Config, logger *infra.Logger) (map[domain.Service]providers.Provider, error) {
	sunoClient, err := suno.NewClient(suno.Options{
		APIKey:         cfg.SunoAPIKey,
		BaseURL:        cfg.SunoBaseURL,
		Model:          cfg.SunoModel,
		Logger:         logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}
	murekaClient, err := mureka.NewClient(mureka.Options{
		APIKey:         cfg.MurekaAPIKey,
		BaseURL:        cfg.MurekaBaseURL,
		Model:          cfg.MurekaModel,
		Logger:         logger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}
	return map[domain.Service]providers.Provider{
		domain.ServiceSuno:   sunoClient,
		domain.ServiceMureka: murekaClient,
	}, nil
}
