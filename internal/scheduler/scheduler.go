// Package scheduler runs the session generator on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"classroll/internal/attendance"
)

// Generator is the work done on every tick.
type Generator interface {
	Generate(ctx context.Context) (attendance.GenerateReport, error)
}

// Locker guards a tick so only one worker replica generates at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Options configures a Scheduler. Spec uses standard five-field cron syntax
// or descriptors such as @every 1m.
type Options struct {
	Spec     string
	Location *time.Location
	Locker   Locker
	LockKey  string
	LockTTL  time.Duration
	Logger   *slog.Logger
}

type Scheduler struct {
	cron    *cron.Cron
	gen     Generator
	locker  Locker
	lockKey string
	lockTTL time.Duration
	log     *slog.Logger
	ctx     context.Context
}

// New validates the schedule and registers the generator job.
func New(gen Generator, opts Options) (*Scheduler, error) {
	if gen == nil {
		return nil, errors.New("scheduler: nil generator")
	}
	if opts.Spec == "" {
		opts.Spec = "* * * * *"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockKey == "" {
		opts.LockKey = "attendance:generator:lock"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 50 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "scheduler")

	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		gen:     gen,
		locker:  opts.Locker,
		lockKey: opts.LockKey,
		lockTTL: opts.LockTTL,
		log:     logger,
		ctx:     context.Background(),
	}
	if _, err := s.cron.AddFunc(opts.Spec, func() { _ = s.RunOnce(s.ctx) }); err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", opts.Spec, err)
	}
	return s, nil
}

// Start begins ticking. ctx is handed to every run.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", "next", s.cron.Entries()[0].Next)
}

// Stop halts the schedule and waits for a running tick or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with a run in flight")
	}
}

// RunOnce performs one generator run, taking the lock first when configured.
// A lock held elsewhere is not an error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, s.lockKey, s.lockTTL)
		if err != nil {
			s.log.Error("generator lock unavailable", "error", err)
			return fmt.Errorf("acquire generator lock: %w", err)
		}
		if !ok {
			s.log.Debug("generator lock held elsewhere, skipping tick")
			return nil
		}
		defer func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := release(relCtx); err != nil {
				s.log.Warn("release generator lock", "error", err)
			}
		}()
	}

	report, err := s.gen.Generate(ctx)
	if err != nil {
		s.log.Error("generator run failed", "error", err, "attempts", report.Attempts)
		return err
	}
	return nil
}
