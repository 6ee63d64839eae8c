package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
	"classroll/internal/config"
)

func TestStartInProcessGenerator(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Monday 07:00 UTC.
	monday := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	newService := func(t *testing.T) (*attendance.Service, *attendance.MemoryStore) {
		t.Helper()
		store := attendance.NewMemoryStore()
		svc := attendance.NewService(store, attendance.Options{
			Location: time.UTC,
			Now:      func() time.Time { return monday },
		})
		_, err := svc.UpsertClass(ctx, attendance.Class{
			ID:             "C1",
			Name:           "Networks",
			RemainingWeeks: 1,
			Schedule:       []attendance.Slot{{DayOfWeek: int(time.Monday), Time: "08:00"}},
			Students:       []string{"S1"},
		})
		require.NoError(t, err)
		return svc, store
	}

	t.Run("memory store generates at startup", func(t *testing.T) {
		svc, store := newService(t)
		cfg := config.App{StoreBackend: "memory", GeneratorCron: "@daily", Location: time.UTC}

		sched, err := startInProcessGenerator(ctx, cfg, svc, logger)
		require.NoError(t, err)
		require.NotNil(t, sched)
		defer sched.Stop(ctx)

		assert.Len(t, store.Sessions("C1"), 1)
	})

	t.Run("postgres leaves generation to the worker", func(t *testing.T) {
		svc, store := newService(t)
		cfg := config.App{StoreBackend: "postgres", GeneratorCron: "@daily", Location: time.UTC}

		sched, err := startInProcessGenerator(ctx, cfg, svc, logger)
		require.NoError(t, err)
		assert.Nil(t, sched)
		assert.Empty(t, store.Sessions("C1"))
	})

	t.Run("bad cron spec", func(t *testing.T) {
		svc, _ := newService(t)
		cfg := config.App{StoreBackend: "memory", GeneratorCron: "not a spec", Location: time.UTC}

		_, err := startInProcessGenerator(ctx, cfg, svc, logger)
		assert.Error(t, err)
	})
}
