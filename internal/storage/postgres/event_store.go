// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/zealywatch/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const eventColumns = 14

// EventStoreConfig controls the Postgres pool used for activity rows.
type EventStoreConfig struct {
	DSN             string
	EventTable      string
	CycleTable      string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// EventStore implements store.CheckEventRepository.
type EventStore struct {
	pool       execCloser
	eventTable string
	cycleTable string
}

// NewEventStore connects to Postgres using cfg.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("activity.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewEventStoreWithPool(pool, cfg.EventTable, cfg.CycleTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewEventStoreWithPool builds a store over an existing pool.
func NewEventStoreWithPool(pool execCloser, eventTable, cycleTable string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if eventTable == "" {
		eventTable = "check_events"
	}
	if cycleTable == "" {
		cycleTable = "check_cycles"
	}
	for _, name := range []string{eventTable, cycleTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &EventStore{pool: pool, eventTable: eventTable, cycleTable: cycleTable}, nil
}

// Close releases the pool.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *EventStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// StartCycle inserts a running cycle row; repeated calls are no-ops.
func (s *EventStore) StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, s.cycleTable)
	if _, err := s.pool.Exec(ctx, query, cycleID, startedAt, store.CycleRunning); err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// FinishCycle stamps the cycle with its tallies.
func (s *EventStore) FinishCycle(ctx context.Context, cycleID uuid.UUID, summary store.CycleSummary) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, checked = $3, changed = $4, failed = $5
WHERE id = $6`, s.cycleTable)
	tag, err := s.pool.Exec(ctx, query,
		summary.FinishedAt,
		store.CycleFinished,
		summary.Checked,
		summary.Changed,
		summary.Failed,
		cycleID,
	)
	if err != nil {
		return fmt.Errorf("finish cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish cycle %s: no such cycle", cycleID)
	}
	return nil
}

// InsertEvents writes events as a single multi-row insert.
func (s *EventStore) InsertEvents(ctx context.Context, events []store.CheckEvent) error {
	if len(events) == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `INSERT INTO %s (
	id, cycle_id, occurred_at, stage, url, source, kind, outcome,
	attempts, failures, duration_ms, chat_id, command, note
) VALUES `, s.eventTable)

	args := make([]any, 0, len(events)*eventColumns)
	for i, evt := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for col := 0; col < eventColumns; col++ {
			if col > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", i*eventColumns+col+1)
		}
		sb.WriteByte(')')
		args = append(args, eventArgs(evt)...)
	}

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert check events: %w", err)
	}
	return nil
}

func eventArgs(evt store.CheckEvent) []any {
	id := evt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var chatID *int64
	if evt.ChatID != 0 {
		chatID = &evt.ChatID
	}
	return []any{
		id,
		evt.CycleID,
		evt.OccurredAt,
		evt.Stage,
		nullable(evt.URL),
		nullable(evt.Source),
		nullable(evt.Kind),
		nullable(evt.Outcome),
		evt.Attempts,
		evt.Failures,
		evt.Duration.Milliseconds(),
		chatID,
		nullable(evt.Command),
		nullable(evt.Note),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
