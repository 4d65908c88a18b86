package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zealywatch/internal/store"
)

func TestInsertEventsSingleStatement(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewEventStoreWithPool(mock, "", "")
	require.NoError(t, err)

	cycle := uuid.New()
	eventID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	events := []store.CheckEvent{
		{
			ID:         eventID,
			CycleID:    &cycle,
			OccurredAt: now,
			Stage:      "CHECK_DONE",
			URL:        "https://zealy.io/cw/demo/questboard",
			Source:     "browser",
			Outcome:    "changed",
			Attempts:   1,
			Duration:   1500 * time.Millisecond,
		},
		{
			OccurredAt: now,
			Stage:      "UNAUTHORIZED",
			ChatID:     99,
		},
	}

	url := "https://zealy.io/cw/demo/questboard"
	source, outcome := "browser", "changed"
	chat := int64(99)
	mock.ExpectExec(`(?s)INSERT INTO check_events \(.*\) VALUES \(\$1,.*\$14\), \(\$15,.*\$28\)`).
		WithArgs(
			eventID, &cycle, now, "CHECK_DONE", &url, &source, (*string)(nil), &outcome,
			1, 0, int64(1500), (*int64)(nil), (*string)(nil), (*string)(nil),
			pgxmock.AnyArg(), (*uuid.UUID)(nil), now, "UNAUTHORIZED", (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil),
			0, 0, int64(0), &chat, (*string)(nil), (*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.InsertEvents(context.Background(), events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEventsEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewEventStoreWithPool(mock, "events", "cycles")
	require.NoError(t, err)
	require.NoError(t, s.InsertEvents(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCycleLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewEventStoreWithPool(mock, "", "")
	require.NoError(t, err)

	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()
	summary := store.CycleSummary{FinishedAt: start.Add(20 * time.Second), Checked: 3, Changed: 1, Failed: 1}

	mock.ExpectExec("INSERT INTO check_cycles").
		WithArgs(id, start, store.CycleRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE check_cycles").
		WithArgs(summary.FinishedAt, store.CycleFinished, 3, 1, 1, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.StartCycle(context.Background(), id, start))
	require.NoError(t, s.FinishCycle(context.Background(), id, summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishCycleMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewEventStoreWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectExec("UPDATE check_cycles").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.FinishCycle(context.Background(), uuid.New(), store.CycleSummary{})
	require.ErrorContains(t, err, "no such cycle")
}

func TestExecErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewEventStoreWithPool(mock, "", "")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO check_cycles").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	err = s.StartCycle(context.Background(), uuid.New(), time.Now())
	require.ErrorIs(t, err, boom)
}

func TestNewEventStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEventStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewEventStoreWithPool(mock, "events; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewEventStore(context.Background(), EventStoreConfig{})
	require.ErrorContains(t, err, "postgres_dsn")
}

func TestPingWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewEventStoreWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	down := errors.New("db down")
	mock.ExpectPing().WillReturnError(down)
	err = s.Ping(context.Background())
	require.ErrorIs(t, err, down)
	require.NoError(t, mock.ExpectationsWereMet())
}
