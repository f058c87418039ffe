package history

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/models"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestRecordRun(t *testing.T) {
	p, mock := newMock(t)
	start := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	run := models.ScanRun{
		RunID:         "run-1",
		Mode:          models.ModeSwing,
		Status:        models.StatusCompleted,
		StartedAt:     start,
		FinishedAt:    start.Add(90 * time.Second),
		Total:         40,
		Scanned:       40,
		Opportunities: 3,
		Skipped:       map[string]int{"low_score": 37},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_runs")).
		WithArgs("run-1", "swing", "completed", "", run.StartedAt, run.FinishedAt, 40, 40, 3, []byte(`{"low_score":37}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.RecordRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunMissingTable(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_runs")).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "scan_runs" does not exist`})

	err := p.RecordRun(context.Background(), models.ScanRun{RunID: "run-2", Mode: models.ModeIntraday})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan_runs table missing")
	var pqErr *pq.Error
	assert.ErrorAs(t, err, &pqErr)
}

func TestRecent(t *testing.T) {
	p, mock := newMock(t)
	start := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"run_id", "mode", "status", "error", "started_at", "finished_at", "total", "scanned", "opportunities", "skipped"}).
		AddRow("run-2", "intraday", "error", "cancelled", start.Add(time.Hour), start.Add(time.Hour+time.Minute), 50, 20, 1, []byte(`{"low_volume":19}`)).
		AddRow("run-1", "swing", "completed", "", start, start.Add(time.Minute), 40, 40, 3, []byte(`not json`))

	mock.ExpectQuery(regexp.QuoteMeta("FROM scan_runs")).WithArgs(5).WillReturnRows(rows)

	runs, err := p.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, models.ModeIntraday, runs[0].Mode)
	assert.Equal(t, models.StatusError, runs[0].Status)
	assert.Equal(t, "cancelled", runs[0].Error)
	assert.Equal(t, map[string]int{"low_volume": 19}, runs[0].Skipped)
	assert.Equal(t, time.Minute, runs[0].Duration())

	assert.Equal(t, "run-1", runs[1].RunID)
	assert.Nil(t, runs[1].Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDefaultsLimit(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM scan_runs")).WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	runs, err := p.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scan_runs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(config.HistoryConfig{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	require.NoError(t, r.RecordRun(context.Background(), models.ScanRun{}))
	runs, err := r.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, r.Close())
}
