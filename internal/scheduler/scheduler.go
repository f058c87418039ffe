// Package scheduler starts scans on cron schedules while the market is open.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/scan"
)

// Starter starts a scan of the default watchlist
type Starter interface {
	ScanStart(mode string, full bool, symbols []string) (string, error)
}

// Outcomes of one job tick
const (
	OutcomeStarted      = "started"
	OutcomeMarketClosed = "market_closed"
	OutcomeBusy         = "busy"
	OutcomeFailed       = "failed"
)

// JobResult records the last tick of a job
type JobResult struct {
	Job     string    `json:"job"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	RunID   string    `json:"run_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// JobStatus describes one registered job
type JobStatus struct {
	Name string     `json:"name"`
	Spec string     `json:"spec"`
	Mode string     `json:"mode"`
	Full bool       `json:"full"`
	Next time.Time  `json:"next"`
	Last *JobResult `json:"last,omitempty"`
}

// Status represents scheduler status
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type entry struct {
	job config.Job
	id  cron.EntryID
}

// Scheduler runs the configured jobs
type Scheduler struct {
	cron        *cron.Cron
	starter     Starter
	clock       MarketClock
	ignoreHours bool
	now         func() time.Time

	mu      sync.Mutex
	entries []entry
	last    map[string]JobResult
	running bool
}

// New validates every job and registers it. Specs use the standard five-field
// cron format and are evaluated in cfg.Timezone.
func New(cfg config.ScheduleConfig, starter Starter, clock MarketClock) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone %q: %w", cfg.Timezone, err)
	}
	if clock == nil {
		clock = NSECalendar(cfg.Timezone)
	}

	s := &Scheduler{
		cron:        cron.New(cron.WithLocation(loc)),
		starter:     starter,
		clock:       clock,
		ignoreHours: cfg.IgnoreMarketHours,
		now:         time.Now,
		last:        map[string]JobResult{},
	}

	seen := map[string]bool{}
	for _, job := range cfg.Jobs {
		if job.Name == "" {
			return nil, errors.New("schedule job has no name")
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("schedule job %q defined twice", job.Name)
		}
		seen[job.Name] = true
		if _, err := models.ParseMode(job.Mode); err != nil {
			return nil, fmt.Errorf("schedule job %q: %w", job.Name, err)
		}

		job := job
		id, err := s.cron.AddFunc(job.Spec, func() { s.Tick(job) })
		if err != nil {
			return nil, fmt.Errorf("schedule job %q: bad spec %q: %w", job.Name, job.Spec, err)
		}
		s.entries = append(s.entries, entry{job: job, id: id})
	}
	return s, nil
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
	log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Stop halts the cron loop and waits for running ticks to return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Info().Msg("Scheduler stopped")
}

// Tick runs one job now. Ticks outside market hours and ticks that find a
// scan already running are skipped.
func (s *Scheduler) Tick(job config.Job) JobResult {
	now := s.now()
	res := JobResult{Job: job.Name, At: now}

	switch {
	case !s.ignoreHours && !s.clock.IsOpen(now):
		res.Outcome = OutcomeMarketClosed
		log.Info().Str("job", job.Name).Msg("Market closed, skipping scheduled scan")
	default:
		runID, err := s.starter.ScanStart(job.Mode, job.Full, nil)
		switch {
		case err == nil:
			res.Outcome = OutcomeStarted
			res.RunID = runID
			log.Info().Str("job", job.Name).Str("run_id", runID).Str("mode", job.Mode).
				Bool("full", job.Full).Msg("Scheduled scan started")
		case errors.Is(err, scan.ErrBusy):
			res.Outcome = OutcomeBusy
			log.Info().Str("job", job.Name).Msg("Scan already running, skipping scheduled scan")
		default:
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			log.Warn().Err(err).Str("job", job.Name).Msg("Scheduled scan failed to start")
		}
	}

	s.mu.Lock()
	s.last[job.Name] = res
	s.mu.Unlock()
	return res
}

// Status lists jobs with their next fire time and last result
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.entries))}
	for _, e := range s.entries {
		js := JobStatus{
			Name: e.job.Name,
			Spec: e.job.Spec,
			Mode: e.job.Mode,
			Full: e.job.Full,
			Next: s.cron.Entry(e.id).Next,
		}
		if r, ok := s.last[e.job.Name]; ok {
			r := r
			js.Last = &r
		}
		st.Jobs = append(st.Jobs, js)
	}
	sort.Slice(st.Jobs, func(i, j int) bool { return st.Jobs[i].Name < st.Jobs[j].Name })
	return st
}
