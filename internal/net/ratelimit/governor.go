// Package ratelimit enforces provider request budgets.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config is the request budget for one provider
type Config struct {
	RPS      int
	RPM      int
	RPH      int
	MinDelay time.Duration
}

// WaitObserver receives the time each Acquire spent blocked
type WaitObserver interface {
	ObserveWait(provider string, d time.Duration)
}

type window struct {
	size  time.Duration
	limit int
	count int
	start time.Time
}

// roll starts a fresh window once the current one has elapsed
func (w *window) roll(now time.Time) {
	if w.start.IsZero() || now.Sub(w.start) >= w.size {
		w.start = now
		w.count = 0
	}
}

// delay returns how long until the window admits another request
func (w *window) delay(now time.Time) time.Duration {
	w.roll(now)
	if w.count < w.limit {
		return 0
	}
	return w.start.Add(w.size).Sub(now)
}

// Governor admits requests under per-second, per-minute and per-hour budgets
// and keeps successive requests at least MinDelay apart. Callers queue on a
// single turn; ordering among waiters is best-effort FIFO.
type Governor struct {
	name     string
	cfg      Config
	turn     chan struct{}
	spacing  *rate.Limiter
	observer WaitObserver

	mu       sync.Mutex
	windows  [3]window
	requests int64
	waited   time.Duration
	last     time.Time
}

// NewGovernor creates a governor for the named provider. Non-positive budgets
// are treated as unlimited.
func NewGovernor(name string, cfg Config) *Governor {
	spacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinDelay > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}
	g := &Governor{
		name:    name,
		cfg:     cfg,
		turn:    make(chan struct{}, 1),
		spacing: spacing,
		windows: [3]window{
			{size: time.Second, limit: unlimited(cfg.RPS)},
			{size: time.Minute, limit: unlimited(cfg.RPM)},
			{size: time.Hour, limit: unlimited(cfg.RPH)},
		},
	}
	return g
}

func unlimited(n int) int {
	if n <= 0 {
		return int(^uint(0) >> 1)
	}
	return n
}

// SetObserver attaches a wait observer
func (g *Governor) SetObserver(o WaitObserver) {
	g.observer = o
}

// Name returns the provider name
func (g *Governor) Name() string { return g.name }

// Acquire blocks until one request may be issued or ctx is done
func (g *Governor) Acquire(ctx context.Context) error {
	began := time.Now()

	select {
	case g.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.turn }()

	for {
		d := g.windowDelay(time.Now())
		if d <= 0 {
			break
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := g.spacing.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	now := time.Now()
	g.mu.Lock()
	for i := range g.windows {
		g.windows[i].roll(now)
		g.windows[i].count++
	}
	g.requests++
	wait := now.Sub(began)
	g.waited += wait
	g.last = now
	g.mu.Unlock()

	if g.observer != nil {
		g.observer.ObserveWait(g.name, wait)
	}
	return nil
}

func (g *Governor) windowDelay(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	var longest time.Duration
	for i := range g.windows {
		if d := g.windows[i].delay(now); d > longest {
			longest = d
		}
	}
	return longest
}

// Stats is a point-in-time view of a governor
type Stats struct {
	Provider    string        `json:"provider"`
	Second      int           `json:"second"`
	Minute      int           `json:"minute"`
	Hour        int           `json:"hour"`
	RPS         int           `json:"rps"`
	RPM         int           `json:"rpm"`
	RPH         int           `json:"rph"`
	MinDelay    time.Duration `json:"min_delay"`
	Requests    int64         `json:"requests"`
	TotalWait   time.Duration `json:"total_wait"`
	LastRequest time.Time     `json:"last_request"`
}

// IsThrottled reports whether any window is exhausted
func (s Stats) IsThrottled() bool {
	return (s.RPS > 0 && s.Second >= s.RPS) ||
		(s.RPM > 0 && s.Minute >= s.RPM) ||
		(s.RPH > 0 && s.Hour >= s.RPH)
}

// Stats returns current window counts
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for i := range g.windows {
		g.windows[i].roll(now)
	}
	return Stats{
		Provider:    g.name,
		Second:      g.windows[0].count,
		Minute:      g.windows[1].count,
		Hour:        g.windows[2].count,
		RPS:         g.cfg.RPS,
		RPM:         g.cfg.RPM,
		RPH:         g.cfg.RPH,
		MinDelay:    g.cfg.MinDelay,
		Requests:    g.requests,
		TotalWait:   g.waited,
		LastRequest: g.last,
	}
}

// Reset clears all windows
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.windows {
		g.windows[i].start = time.Time{}
		g.windows[i].count = 0
	}
}

// Manager holds one governor per provider
type Manager struct {
	mu        sync.RWMutex
	governors map[string]*Governor
	observer  WaitObserver
}

// NewManager creates an empty manager
func NewManager(observer WaitObserver) *Manager {
	return &Manager{
		governors: make(map[string]*Governor),
		observer:  observer,
	}
}

// AddProvider registers (or replaces) the governor for a provider
func (m *Manager) AddProvider(name string, cfg Config) *Governor {
	g := NewGovernor(name, cfg)
	g.SetObserver(m.observer)

	m.mu.Lock()
	m.governors[name] = g
	m.mu.Unlock()
	return g
}

// Get returns the governor for a provider
func (m *Manager) Get(name string) (*Governor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.governors[name]
	return g, ok
}

// Acquire waits on the named provider's governor. Unknown providers are not limited.
func (m *Manager) Acquire(ctx context.Context, name string) error {
	g, ok := m.Get(name)
	if !ok {
		return nil
	}
	return g.Acquire(ctx)
}

// Stats returns stats for every provider
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.governors))
	for name, g := range m.governors {
		out[name] = g.Stats()
	}
	return out
}

// Reset clears every governor's windows
func (m *Manager) Reset() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.governors {
		g.Reset()
	}
}
