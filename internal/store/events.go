package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CycleStatus mirrors the check_cycles.status column.
type CycleStatus string

// Cycle statuses.
const (
	CycleRunning  CycleStatus = "running"
	CycleFinished CycleStatus = "finished"
)

// CheckEvent is one persisted activity row.
type CheckEvent struct {
	ID         uuid.UUID
	CycleID    *uuid.UUID
	OccurredAt time.Time
	Stage      string
	URL        string
	Source     string
	Kind       string
	Outcome    string
	Attempts   int
	Failures   int
	Duration   time.Duration
	ChatID     int64
	Command    string
	Note       string
}

// CycleSummary closes out a scheduler pass.
type CycleSummary struct {
	FinishedAt time.Time
	Checked    int
	Changed    int
	Failed     int
}

// CheckEventRepository persists scheduler cycles and activity events.
type CheckEventRepository interface {
	// StartCycle records a pass as running.
	StartCycle(ctx context.Context, cycleID uuid.UUID, startedAt time.Time) error
	// FinishCycle marks the pass finished with its tallies.
	FinishCycle(ctx context.Context, cycleID uuid.UUID, summary CycleSummary) error
	// InsertEvents appends events in one round trip.
	InsertEvents(ctx context.Context, events []CheckEvent) error
}
