// Package scan runs scans in the background and exposes their progress.
//
// Exactly one scan runs at a time. Symbols are processed in fixed-size
// batches; after each batch the coordinator publishes a scan_progress event
// and pauses before the next one. Cancellation is observed between batches.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/events"
	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/scanner"
)

var (
	// ErrBusy is returned by Start while another scan is running
	ErrBusy = errors.New("scan already in progress")
	// ErrInvalidMode is returned by Start for an unknown mode
	ErrInvalidMode = fmt.Errorf("%w: unknown scan mode", models.ErrInvalidInput)
)

// ReasonCancelled is the error recorded on a cancelled run
const ReasonCancelled = "cancelled"

// Engine prepares a scanner run for a mode
type Engine interface {
	Begin(ctx context.Context, mode models.Mode) (*scanner.Run, error)
}

// RunRecorder persists finished runs
type RunRecorder interface {
	RecordRun(ctx context.Context, run models.ScanRun) error
}

// Observer is told when runs start and finish
type Observer interface {
	ScanStarted(mode models.Mode)
	ObserveScan(run models.ScanRun)
}

// Options are the optional collaborators of a Coordinator
type Options struct {
	Bus      *events.Bus
	Recorder RunRecorder
	Observer Observer
}

// Coordinator owns the scan state machine
type Coordinator struct {
	engine   Engine
	cfg      config.ScanConfig
	bus      *events.Bus
	recorder RunRecorder
	observer Observer
	now      func() time.Time

	mu        sync.RWMutex
	state     models.ScanState
	busy      bool // held until the worker has published, observed and recorded
	cancel    context.CancelFunc
	done      chan struct{}
	completed map[models.Mode]time.Time
}

// New creates an idle coordinator
func New(engine Engine, cfg config.ScanConfig, opts Options) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.Default().Scan.BatchSize
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Coordinator{
		engine:   engine,
		cfg:      cfg,
		bus:      bus,
		recorder: opts.Recorder,
		observer: opts.Observer,
		now:      time.Now,
		state: models.ScanState{
			Status:          models.StatusIdle,
			ResultsSwing:    []models.Opportunity{},
			ResultsIntraday: []models.Opportunity{},
		},
		completed: map[models.Mode]time.Time{},
	}
}

// Bus is the event bus progress is published on
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// Start launches a scan of symbols in the background and returns its run id
func (c *Coordinator) Start(mode models.Mode, symbols []string) (string, error) {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.mu.Lock()
	if c.busy {
		runID := c.state.RunID
		c.mu.Unlock()
		log.Info().Str("mode", string(mode)).Str("running", runID).Msg("Scan rejected, another scan is running")
		return "", ErrBusy
	}

	runID := uuid.NewString()
	started := c.now()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	next := models.ScanState{
		RunID:           runID,
		InProgress:      true,
		Mode:            mode,
		StartedAt:       &started,
		Total:           len(symbols),
		Status:          models.StatusRunning,
		LastUpdate:      &started,
		ResultsSwing:    c.state.ResultsSwing,
		ResultsIntraday: c.state.ResultsIntraday,
	}
	setResults(&next, mode, []models.Opportunity{})
	c.state = next
	c.busy = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	list := append([]string(nil), symbols...)
	log.Info().Str("run_id", runID).Str("mode", string(mode)).Int("symbols", len(list)).Msg("Scan started")

	if c.observer != nil {
		c.observer.ScanStarted(mode)
	}
	go c.run(ctx, cancel, done, runID, mode, list, started)
	return runID, nil
}

// Status returns a consistent snapshot of the scan state
func (c *Coordinator) Status() models.ScanState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Cancel asks the running scan to stop after its current batch
func (c *Coordinator) Cancel() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.InProgress || c.cancel == nil {
		return false
	}
	c.cancel()
	log.Info().Str("run_id", c.state.RunID).Msg("Scan cancellation requested")
	return true
}

// Wait blocks until the current scan, if any, has finished or ctx is done
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a listener for scan events
func (c *Coordinator) Subscribe(h events.Handler) func() {
	return c.bus.Subscribe(h)
}

// Results returns a copy of the latest ranked results for mode
func (c *Coordinator) Results(mode models.Mode) []models.Opportunity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Opportunity{}, c.state.Results(mode)...)
}

// Opportunities returns one page of results. page starts at 1 and limit is 1..100.
func (c *Coordinator) Opportunities(mode models.Mode, page, limit int) ([]models.Opportunity, models.Pagination, error) {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return nil, models.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if page < 1 {
		return nil, models.Pagination{}, fmt.Errorf("%w: page must be >= 1", models.ErrInvalidInput)
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, models.Pagination{}, fmt.Errorf("%w: limit must be between 1 and %d", models.ErrInvalidInput, MaxPageLimit)
	}

	all := c.Results(mode)
	p := paginate(len(all), page, limit)
	start := (page - 1) * limit
	if start >= len(all) {
		return []models.Opportunity{}, p, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], p, nil
}

// MaxPageLimit bounds Opportunities page sizes
const MaxPageLimit = 100

func paginate(total, page, limit int) models.Pagination {
	pages := (total + limit - 1) / limit
	return models.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// Freshness is how long results of a quick or full scan in mode stay current
func (c *Coordinator) Freshness(mode models.Mode, full bool) time.Duration {
	f := c.cfg.Freshness
	switch {
	case mode == models.ModeIntraday && full:
		return f.FullIntraday.D()
	case mode == models.ModeIntraday:
		return f.QuickIntraday.D()
	case full:
		return f.FullSwing.D()
	default:
		return f.QuickSwing.D()
	}
}

// IsFresh reports whether the last completed scan in mode is still current at now
func (c *Coordinator) IsFresh(mode models.Mode, full bool, now time.Time) bool {
	c.mu.RLock()
	at, ok := c.completed[mode]
	c.mu.RUnlock()
	return ok && now.Sub(at) < c.Freshness(mode, full)
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, runID string, mode models.Mode, symbols []string, started time.Time) {
	defer close(done)
	defer c.release()
	defer cancel()

	summary := models.ScanRun{
		RunID:     runID,
		Mode:      mode,
		StartedAt: started,
		Total:     len(symbols),
		Skipped:   map[string]int{},
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("run_id", runID).Interface("panic", r).Msg("Scan worker panicked")
			c.finish(&summary, fmt.Errorf("scan worker panic: %v", r))
		}
	}()

	run, err := c.engine.Begin(ctx, mode)
	if err != nil {
		c.finish(&summary, err)
		return
	}

	// Work inside a batch is not interrupted by a cancel.
	work := context.WithoutCancel(ctx)
	found := []models.Opportunity{}
	for start := 0; start < len(symbols); start += c.cfg.BatchSize {
		if ctx.Err() != nil {
			c.finish(&summary, errors.New(ReasonCancelled))
			return
		}

		end := start + c.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		for _, sym := range symbols[start:end] {
			opp, reason := run.Evaluate(work, sym)
			if opp == nil {
				summary.Skipped[string(reason)]++
				continue
			}
			found = append(found, *opp)
		}
		scanner.Rank(found)
		summary.Scanned = end
		summary.Opportunities = len(found)
		c.progress(runID, mode, end, len(symbols), found)

		if end < len(symbols) && !c.pause(ctx) {
			c.finish(&summary, errors.New(ReasonCancelled))
			return
		}
	}

	c.finish(&summary, nil)
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Coordinator) pause(ctx context.Context) bool {
	d := c.cfg.BatchDelay.D()
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) progress(runID string, mode models.Mode, current, total int, found []models.Opportunity) {
	pct := percent(current, total)
	now := c.now()

	c.mu.Lock()
	c.state.Scanned = current
	c.state.ProgressPct = pct
	c.state.LastUpdate = &now
	setResults(&c.state, mode, append([]models.Opportunity{}, found...))
	c.mu.Unlock()

	log.Debug().Str("run_id", runID).Int("scanned", current).Int("total", total).
		Int("opportunities", len(found)).Msg("Scan batch processed")

	c.bus.Publish(events.Event{
		Type:  events.ScanProgress,
		RunID: runID,
		Data: events.Progress{
			Mode:               mode,
			Current:            current,
			Total:              total,
			Percent:            pct,
			OpportunitiesFound: len(found),
		},
	})
}

func (c *Coordinator) finish(summary *models.ScanRun, err error) {
	now := c.now()
	summary.FinishedAt = now

	c.mu.Lock()
	c.state.InProgress = false
	c.state.LastUpdate = &now
	if err != nil {
		c.state.Status = models.StatusError
		c.state.Error = err.Error()
	} else {
		c.state.Status = models.StatusCompleted
		c.state.ProgressPct = 100
		c.completed[summary.Mode] = now
	}
	summary.Status = c.state.Status
	summary.Error = c.state.Error
	c.mu.Unlock()

	if err != nil {
		ev := log.Warn()
		if err.Error() == ReasonCancelled {
			ev = log.Info()
		}
		ev.Str("run_id", summary.RunID).Str("mode", string(summary.Mode)).Err(err).
			Int("scanned", summary.Scanned).Msg("Scan stopped")
		c.bus.Publish(events.Event{
			Type:  events.ScanError,
			RunID: summary.RunID,
			Data:  events.Failure{Mode: summary.Mode, Message: err.Error()},
		})
	} else {
		log.Info().Str("run_id", summary.RunID).Str("mode", string(summary.Mode)).
			Int("opportunities", summary.Opportunities).Dur("duration", summary.Duration()).Msg("Scan completed")
		c.bus.Publish(events.Event{
			Type:  events.ScanComplete,
			RunID: summary.RunID,
			Data: events.Complete{
				Mode:               summary.Mode,
				TotalOpportunities: summary.Opportunities,
				ScanDurationS:      math.Round(summary.Duration().Seconds()*100) / 100,
			},
		})
	}

	if c.observer != nil {
		c.observer.ObserveScan(*summary)
	}
	if c.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := c.recorder.RecordRun(ctx, *summary); rerr != nil {
			log.Warn().Err(rerr).Str("run_id", summary.RunID).Msg("Failed to record scan run")
		}
	}
}

func percent(current, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(current)*10000/float64(total)) / 100
}

func setResults(s *models.ScanState, mode models.Mode, opps []models.Opportunity) {
	if mode == models.ModeIntraday {
		s.ResultsIntraday = opps
		return
	}
	s.ResultsSwing = opps
}
