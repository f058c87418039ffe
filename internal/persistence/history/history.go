// Package history stores summaries of finished scans.
package history

import (
	"context"

	"github.com/sawpanic/nsescan/internal/models"
)

// Recorder persists and lists scan runs
type Recorder interface {
	RecordRun(ctx context.Context, run models.ScanRun) error
	Recent(ctx context.Context, limit int) ([]models.ScanRun, error)
	Close() error
}

// Noop discards runs. It is used when history is disabled.
type Noop struct{}

func (Noop) RecordRun(context.Context, models.ScanRun) error { return nil }

func (Noop) Recent(context.Context, int) ([]models.ScanRun, error) {
	return []models.ScanRun{}, nil
}

func (Noop) Close() error { return nil }
