package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"classroll/internal/api"
	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/httpmiddleware"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/scheduler"
	"classroll/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.App) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	checks := map[string]api.HealthCheck{}

	var backend attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		backend = attendance.NewMemoryStore()
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		backend = attendance.NewRepository(db.Client)
		checks["db"] = db.Healthy
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// No worker can reach an in-process queue, so drain it here.
		q = queue.NewInMemory(1024)
		if sink, ok := backend.(attendance.AuditLog); ok {
			go func() {
				_ = attendance.ConsumeAudit(ctx, q, sink, logger.With("component", "audit"), m)
			}()
		}
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, logger)
		checks["redis"] = redisClient.Healthy
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitPerMin > 0 {
		if cfg.RateLimitBackend == "redis" {
			limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
		} else {
			limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
		}
	}

	svc := attendance.NewService(backend, attendance.Options{
		Location:       cfg.Location,
		MaxAttempts:    cfg.GeneratorMaxAttempts,
		Backoff:        cfg.GeneratorBackoff,
		DefaultMinutes: cfg.QRDefaultMinutes,
		Logger:         logger.With("component", "attendance"),
		Metrics:        m,
	})
	sched, err := startInProcessGenerator(ctx, cfg, svc, logger)
	if err != nil {
		return err
	}

	h := api.NewHandler(svc, q, checks, logger)
	r := api.NewRouter(h, api.RouterConfig{
		SigningKey:     cfg.JWTSigningKey,
		Issuer:         cfg.JWTIssuer,
		CheckInLimiter: limiter,
		Gatherer:       reg,
		AllowOrigins:   cfg.CORSAllowOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreBackend, "queue", cfg.QueueBackend, "timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	logger.Info("server exited")
	return nil
}

// startInProcessGenerator schedules session generation inside the API when the
// store lives in this process, since the worker only reaches Postgres. It
// returns nil for other backends.
func startInProcessGenerator(ctx context.Context, cfg config.App, gen scheduler.Generator, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if cfg.StoreBackend != "memory" {
		return nil, nil
	}
	sched, err := scheduler.New(gen, scheduler.Options{
		Spec:     cfg.GeneratorCron,
		Location: cfg.Location,
		Logger:   logger.With("component", "scheduler"),
	})
	if err != nil {
		return nil, err
	}
	// Catch up immediately instead of waiting for the first tick.
	_ = sched.RunOnce(ctx)
	sched.Start(ctx)
	return sched, nil
}
