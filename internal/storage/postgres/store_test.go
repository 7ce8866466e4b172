package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thread-recovery/internal/recovery"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "threads", "recovery_runs")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "threads; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	require.Equal(t, "threads", store.metadataTable)
	require.Equal(t, "recovery_runs", store.runsTable)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn")
}

func TestLookupFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM threads WHERE id = \\$1").
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"display_name", "display_number"}).AddRow("Unit 4B", "1042"))

	meta, err := store.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, &recovery.Metadata{DisplayName: "Unit 4B", DisplayNumber: "1042"}, meta)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM threads").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	meta, err := store.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, meta)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM threads").
		WithArgs("abc").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Lookup(context.Background(), "abc")
	require.ErrorContains(t, err, "connection reset")
}

func TestRunLedger(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Hour)
	run := recovery.RunSummary{
		RunID:        "run-1",
		Worker:       2,
		TotalWorkers: 4,
		Assigned:     10,
		StartedAt:    started,
	}

	mock.ExpectExec("INSERT INTO recovery_runs").
		WithArgs("run-1", 2, 4, 10, started, RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RunStarted(context.Background(), run))

	run.FinishedAt = finished
	run.Rotations = 1
	run.Counts = map[recovery.Status]int{
		recovery.StatusSucceeded:  7,
		recovery.StatusRestricted: 1,
		recovery.StatusFailed:     1,
		recovery.StatusSkipped:    1,
	}
	mock.ExpectExec("UPDATE recovery_runs").
		WithArgs(finished, RunCompleted, 7, 1, 1, 1, 0, 1, (*string)(nil), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RunFinished(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFinishedMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	run := recovery.RunSummary{RunID: "ghost", Error: "session unavailable"}
	mock.ExpectExec("UPDATE recovery_runs").
		WithArgs(pgxmock.AnyArg(), RunFailed, 0, 0, 0, 0, 0, 0, pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorContains(t, store.RunFinished(context.Background(), run), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}
