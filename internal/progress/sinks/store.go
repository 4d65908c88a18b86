package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/progress"
	"github.com/JakeFAU/zealywatch/internal/store"
)

// StoreSink persists the activity stream through a store.CheckEventRepository.
// Cycle markers update the cycle table; everything else becomes an event row.
type StoreSink struct {
	repo   store.CheckEventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CheckEventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes cycle markers in order and the remaining events in one insert.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	rows := make([]store.CheckEvent, 0, len(batch))
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCycleStart:
			if err := s.repo.StartCycle(ctx, evt.CycleUUID(), evt.TS); err != nil {
				return fmt.Errorf("start cycle: %w", err)
			}
		case progress.StageCycleDone:
			summary := store.CycleSummary{
				FinishedAt: evt.TS,
				Checked:    evt.Tally.Checked,
				Changed:    evt.Tally.Changed,
				Failed:     evt.Tally.Failed,
			}
			if err := s.repo.FinishCycle(ctx, evt.CycleUUID(), summary); err != nil {
				return fmt.Errorf("finish cycle: %w", err)
			}
		default:
			rows = append(rows, toRow(evt))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.repo.InsertEvents(ctx, rows); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func toRow(evt progress.Event) store.CheckEvent {
	row := store.CheckEvent{
		ID:         uuid.New(),
		OccurredAt: evt.TS,
		Stage:      string(evt.Stage),
		URL:        evt.URL,
		Source:     evt.Source,
		Kind:       evt.Kind,
		Outcome:    string(evt.Outcome),
		Attempts:   evt.Attempts,
		Failures:   evt.Failures,
		Duration:   evt.Dur,
		ChatID:     evt.ChatID,
		Command:    evt.Command,
		Note:       evt.Note,
	}
	if evt.HasCycle() {
		id := evt.CycleUUID()
		row.CycleID = &id
	}
	return row
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
