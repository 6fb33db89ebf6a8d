// Package analytics records one row per finished build for offline
// reporting (failure rates by step, compile times, bundle sizes).
package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
)

// Outcome is a terminal build result
type Outcome struct {
	JobID       string
	GameID      string
	OwnerID     string
	Status      string
	Step        string
	Error       string
	Duration    time.Duration
	BundleBytes int64
	FinishedAt  time.Time
}

// Sink stores outcomes. Recording is best-effort and never blocks a build.
type Sink interface {
	Record(ctx context.Context, o Outcome) error
	Close() error
}

type NopSink struct{}

func (NopSink) Record(context.Context, Outcome) error { return nil }
func (NopSink) Close() error                          { return nil }

// MemorySink keeps outcomes in a slice
type MemorySink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *MemorySink) Record(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *MemorySink) Close() error { return nil }

func (s *MemorySink) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

// ClickHouseSink appends outcomes to <database>.build_outcomes
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseSink connects and ensures the table exists
func NewClickHouseSink(ctx context.Context, addr, database string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	s := &ClickHouseSink{conn: conn, table: database + ".build_outcomes"}
	if err := s.ensureSchema(ctx, database); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context, database string) error {
	if err := s.conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+database); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		finished_at  DateTime64(3),
		job_id       String,
		game_id      String,
		owner_id     String,
		status       LowCardinality(String),
		step         LowCardinality(String),
		error        String,
		duration_ms  UInt64,
		bundle_bytes UInt64
	) ENGINE = MergeTree ORDER BY (finished_at, game_id)`
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create build_outcomes: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Record(ctx context.Context, o Outcome) error {
	if o.FinishedAt.IsZero() {
		o.FinishedAt = time.Now().UTC()
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table+
		" (finished_at, job_id, game_id, owner_id, status, step, error, duration_ms, bundle_bytes)")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	if err := batch.Append(
		o.FinishedAt, o.JobID, o.GameID, o.OwnerID, o.Status, o.Step, o.Error,
		uint64(max(o.Duration.Milliseconds(), 0)), uint64(max(o.BundleBytes, 0)),
	); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return batch.Send()
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
