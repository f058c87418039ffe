package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/models"
)

// Schema creates the scan_runs table
const Schema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	run_id        TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	total         INTEGER NOT NULL,
	scanned       INTEGER NOT NULL,
	opportunities INTEGER NOT NULL,
	skipped       JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS scan_runs_started_at_idx ON scan_runs (started_at DESC);`

const insertRun = `
INSERT INTO scan_runs (run_id, mode, status, error, started_at, finished_at, total, scanned, opportunities, skipped)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id) DO NOTHING`

const selectRecent = `
SELECT run_id, mode, status, error, started_at, finished_at, total, scanned, opportunities, skipped
FROM scan_runs
ORDER BY started_at DESC
LIMIT $1`

// pq code for a missing relation
const undefinedTable = "42P01"

// Postgres stores runs in the scan_runs table
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an open database handle
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

// Open connects using cfg, configures the pool and pings the server
func Open(cfg config.HistoryConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("history DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.D())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	log.Info().Int("max_open", cfg.MaxOpenConns).Msg("History database connected")
	return NewPostgres(db, cfg.QueryTimeout.D()), nil
}

// EnsureSchema creates the table and index if they are missing
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create scan_runs: %w", err)
	}
	return nil
}

// RecordRun inserts run. Recording the same run id twice is a no-op.
func (p *Postgres) RecordRun(ctx context.Context, run models.ScanRun) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	skipped := run.Skipped
	if skipped == nil {
		skipped = map[string]int{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("marshal skipped: %w", err)
	}

	_, err = p.db.ExecContext(ctx, insertRun,
		run.RunID, string(run.Mode), string(run.Status), run.Error,
		run.StartedAt, run.FinishedAt, run.Total, run.Scanned, run.Opportunities, skippedJSON)
	if err != nil {
		return wrap("insert scan run", err)
	}
	return nil
}

type runRow struct {
	RunID         string    `db:"run_id"`
	Mode          string    `db:"mode"`
	Status        string    `db:"status"`
	Error         string    `db:"error"`
	StartedAt     time.Time `db:"started_at"`
	FinishedAt    time.Time `db:"finished_at"`
	Total         int       `db:"total"`
	Scanned       int       `db:"scanned"`
	Opportunities int       `db:"opportunities"`
	Skipped       []byte    `db:"skipped"`
}

// Recent lists the newest runs first
func (p *Postgres) Recent(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var rows []runRow
	if err := p.db.SelectContext(ctx, &rows, selectRecent, limit); err != nil {
		return nil, wrap("select scan runs", err)
	}

	out := make([]models.ScanRun, 0, len(rows))
	for _, r := range rows {
		run := models.ScanRun{
			RunID:         r.RunID,
			Mode:          models.Mode(r.Mode),
			Status:        models.ScanStatus(r.Status),
			Error:         r.Error,
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			Total:         r.Total,
			Scanned:       r.Scanned,
			Opportunities: r.Opportunities,
		}
		if len(r.Skipped) > 0 {
			if err := json.Unmarshal(r.Skipped, &run.Skipped); err != nil {
				log.Warn().Err(err).Str("run_id", r.RunID).Msg("Ignoring malformed skipped counts")
			}
		}
		out = append(out, run)
	}
	return out, nil
}

// Close closes the database handle
func (p *Postgres) Close() error {
	return p.db.Close()
}

func wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		return fmt.Errorf("%s: scan_runs table missing: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
