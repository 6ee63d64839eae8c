package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/scheduler"
	"classroll/internal/store"
)

// Worker runs the session generator on its cron schedule and persists
// check-in audit events published by the API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if !cfg.IsProduction() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, attendance.Options{
		Location:       cfg.Location,
		MaxAttempts:    cfg.GeneratorMaxAttempts,
		Backoff:        cfg.GeneratorBackoff,
		DefaultMinutes: cfg.QRDefaultMinutes,
		Logger:         logger.With("component", "generator"),
		Metrics:        m,
	})

	opts := scheduler.Options{
		Spec:     cfg.GeneratorCron,
		Location: cfg.Location,
		Logger:   logger,
	}
	if cfg.GeneratorLock {
		opts.Locker = redisClient
	}
	sched, err := scheduler.New(svc, opts)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.QueueBackend == "redis" {
		q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := attendance.ConsumeAudit(ctx, q, repo, logger.With("component", "audit"), m); err != nil {
				logger.Error("audit consumer stopped", "error", err)
			}
		}()
	} else {
		logger.Info("audit consumer disabled", "queue", cfg.QueueBackend)
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	// Catch up immediately instead of waiting for the first tick.
	_ = sched.RunOnce(ctx)
	sched.Start(ctx)
	logger.Info("worker started", "cron", cfg.GeneratorCron, "timezone", cfg.Timezone, "lock", cfg.GeneratorLock)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
	logger.Info("worker exited")
	return nil
}
