// Package sequence issues monotonically increasing integers per named counter.
//
// Callers format the values into human-readable identifiers themselves.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Allocator hands out the next value of a named counter. The first value of
// a fresh counter is 1. No two calls ever observe the same value.
type Allocator interface {
	Next(ctx context.Context, counter string) (int64, error)
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres allocates from the counters table with a single atomic upsert.
type Postgres struct {
	q Querier
}

// NewPostgres returns an allocator that runs on q. Pass a *sql.Tx to make
// the allocation part of a larger transaction.
func NewPostgres(q Querier) *Postgres {
	return &Postgres{q: q}
}

const nextSQL = `
	INSERT INTO counters (name, seq)
	VALUES ($1, 1)
	ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1
	RETURNING seq
`

// Next increments and returns counter.
func (p *Postgres) Next(ctx context.Context, counter string) (int64, error) {
	if counter == "" {
		return 0, errors.New("sequence: counter name required")
	}
	var seq int64
	if err := p.q.QueryRowContext(ctx, nextSQL, counter).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sequence %s: %w", counter, err)
	}
	return seq, nil
}

// Memory is a process-local allocator.
type Memory struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemory() *Memory {
	return &Memory{counters: make(map[string]int64)}
}

// Next increments and returns counter.
func (m *Memory) Next(_ context.Context, counter string) (int64, error) {
	if counter == "" {
		return 0, errors.New("sequence: counter name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counter]++
	return m.counters[counter], nil
}

// Peek returns the last issued value without incrementing.
func (m *Memory) Peek(counter string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counter]
}

// Restore sets counter to v. Used to roll back state in the memory store.
func (m *Memory) Restore(counter string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[counter] = v
}
