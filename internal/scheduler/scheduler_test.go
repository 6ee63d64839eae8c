package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
)

type countingGenerator struct {
	calls atomic.Int32
	err   error
}

func (g *countingGenerator) Generate(context.Context) (attendance.GenerateReport, error) {
	g.calls.Add(1)
	return attendance.GenerateReport{Attempts: 1}, g.err
}

type fakeLocker struct {
	ok       bool
	err      error
	released int
	keys     []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.keys = append(l.keys, key)
	release := func(context.Context) error {
		l.released++
		return nil
	}
	return release, l.ok, l.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(&countingGenerator{}, Options{Spec: "every tuesday"})
	require.Error(t, err)

	_, err = New(nil, Options{})
	require.Error(t, err)
}

func TestRunOnceWithoutLocker(t *testing.T) {
	gen := &countingGenerator{}
	s, err := New(gen, Options{})
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestRunOnceLocking(t *testing.T) {
	tests := []struct {
		name        string
		locker      *fakeLocker
		wantCalls   int32
		wantRelease int
		wantErr     bool
	}{
		{name: "lock acquired", locker: &fakeLocker{ok: true}, wantCalls: 1, wantRelease: 1},
		{name: "lock held elsewhere", locker: &fakeLocker{ok: false}, wantCalls: 0},
		{name: "lock backend down", locker: &fakeLocker{err: errors.New("redis down")}, wantCalls: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &countingGenerator{}
			s, err := New(gen, Options{Locker: tt.locker, LockKey: "gen"})
			require.NoError(t, err)

			err = s.RunOnce(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, gen.calls.Load())
			assert.Equal(t, tt.wantRelease, tt.locker.released)
			assert.Equal(t, []string{"gen"}, tt.locker.keys)
		})
	}
}

func TestRunOnceReturnsGeneratorError(t *testing.T) {
	locker := &fakeLocker{ok: true}
	gen := &countingGenerator{err: errors.New("boom")}
	s, err := New(gen, Options{Locker: locker})
	require.NoError(t, err)

	require.EqualError(t, s.RunOnce(context.Background()), "boom")
	assert.Equal(t, 1, locker.released, "lock released even when the run fails")
}

func TestStartStop(t *testing.T) {
	s, err := New(&countingGenerator{}, Options{Spec: "@daily", Location: time.FixedZone("ICT", 7*3600)})
	require.NoError(t, err)

	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
