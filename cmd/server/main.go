// Command server starts the video-generation pipeline: HTTP API, worker
// fleets, and maintenance loops in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-video-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/videoapi"
	"github.com/fairyhunter13/ai-video-pipeline/internal/adapter/watermark"
	"github.com/fairyhunter13/ai-video-pipeline/internal/app"
	"github.com/fairyhunter13/ai-video-pipeline/internal/config"
	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-video-pipeline/internal/pipeline"
	"github.com/fairyhunter13/ai-video-pipeline/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-video-pipeline/internal/service/secrets"
	"github.com/fairyhunter13/ai-video-pipeline/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	for _, dir := range []string{cfg.UploadsDir, cfg.DownloadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create data dir", slog.String("dir", dir), slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("db open failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	jobRepo := sqlite.NewJobRepo(db)
	acctRepo := sqlite.NewAccountRepo(db)

	// Optional Redis-backed submit throttle.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}
	limiter := ratelimiter.NewRedisLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(cfg.SubmitRatePerMin))

	sealer, err := secrets.New(cfg.AccountSecretKey)
	if err != nil {
		slog.Error("invalid account secret key", slog.Any("error", err))
		os.Exit(1)
	}
	if sealer == nil && cfg.IsProd() {
		slog.Warn("account passwords are stored unsealed; set ACCOUNT_SECRET_KEY")
	}

	api := videoapi.New(cfg)
	var cleaner domain.WatermarkRemover
	if cfg.WatermarkAPIURL != "" {
		cleaner = watermark.New(cfg.WatermarkAPIURL)
	}

	bus := pipeline.NewTaskBus(cfg.GenerateQueueSize, cfg.PollQueueSize, cfg.DownloadQueueSize)
	pool := pipeline.NewAccountPool(acctRepo, api)
	workers := pipeline.NewWorkers(cfg, jobRepo, acctRepo, bus, pool, api, cleaner, limiter)
	sup := pipeline.NewSupervisor(cfg, jobRepo, acctRepo, bus, pool, workers)

	if err := sup.RecoverOnStartup(ctx); err != nil {
		slog.Error("startup recovery failed", slog.Any("error", err))
		os.Exit(1)
	}

	appCtx, appCancel := context.WithCancel(ctx)
	defer appCancel()
	sup.Start(appCtx)
	defer sup.Stop()

	sweeper := app.NewStaleJobSweeper(jobRepo, bus, cfg.StaleJobCutoff, cfg.StaleSweepInterval)
	go sweeper.Run(appCtx)

	jobSvc := usecase.NewJobService(jobRepo, bus)
	acctSvc := usecase.NewAccountService(acctRepo, pool, sealer)

	dbCheck, redisCheck := app.BuildReadinessChecks(db, rdb)
	srv := httpserver.NewServer(cfg, jobSvc, acctSvc, sup, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
