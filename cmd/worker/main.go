package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/ingest"
	"server/internal/providers"
	"server/internal/providers/mureka"
	"server/internal/providers/suno"
	"server/internal/storage"
	"server/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	pipeline := ingest.NewPipeline(jobs, tracks, locks, store, &http.Client{}, ingest.Options{
		LockTTL:         cfg.IngestLockTTL,
		DownloadTimeout: cfg.ProviderTimeout,
	}, logger)

	queue := ingest.NewQueue(pipeline, cfg.IngestQueueSize, logger)
	queue.Start(ctx, cfg.IngestWorkers)
	defer queue.Close()

	reconciler := ingest.NewReconciler(jobs, tracks, queue, logger)
	coordinator := ingest.NewCoordinator(pipeline, reconciler, logger)

	sw := sweeper.New(jobs, provs, coordinator, sweeper.Config{
		Grace: map[domain.Service]time.Duration{
			domain.ServiceSuno:   cfg.SunoStaleGrace,
			domain.ServiceMureka: cfg.MurekaHardLimit,
		},
	}, logger)

	logger.Info().Dur("interval", cfg.SweepInterval).Msg("worker started")
	if err := sw.Run(ctx, cfg.SweepInterval); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("sweeper stopped with error")
	}
	logger.Info().Msg("worker stopped")
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
