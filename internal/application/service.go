// Package application is the API the HTTP server, CLI and scheduler use.
// It validates caller input and composes the analyzers, scanner and coordinator.
package application

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/events"
	"github.com/sawpanic/nsescan/internal/infrastructure/httpclient"
	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/net/ratelimit"
	"github.com/sawpanic/nsescan/internal/persistence/history"
	"github.com/sawpanic/nsescan/internal/provider"
	"github.com/sawpanic/nsescan/internal/scan"
	"github.com/sawpanic/nsescan/internal/watchlist"
)

// ErrInvalidInput wraps every validation failure returned by Service
var ErrInvalidInput = models.ErrInvalidInput

// DefaultTimeframe is used by Analyze when no timeframe is given
const DefaultTimeframe = "day"

// StockAnalyzer scores one symbol
type StockAnalyzer interface {
	Analyze(ctx context.Context, symbol, timeframe string) (*models.Analysis, error)
}

// MarketView summarises market breadth and sectors
type MarketView interface {
	Health(ctx context.Context) models.MarketHealth
	BullishSectors(ctx context.Context, minChange float64) []models.SectorMove
	TrendingIndices(ctx context.Context) []models.IndexTrend
}

// FundamentalsSource serves the per-symbol company documents
type FundamentalsSource interface {
	Shareholdings(ctx context.Context, symbol string) (provider.Document, error)
	Financials(ctx context.Context, symbol string) (provider.Document, error)
}

// Deps are the collaborators of a Service. Analyzer, Market and Coordinator are required.
type Deps struct {
	Analyzer     StockAnalyzer
	Market       MarketView
	Fundamentals FundamentalsSource
	Coordinator  *scan.Coordinator
	Watchlist    []string
	QuickLimit   int
	History      history.Recorder
	Breakers     func() []provider.BreakerStatus
	Transport    func() (httpclient.ClientStats, bool)
	Governors    *ratelimit.Manager
	CacheBackend string
}

// Service is the provided API
type Service struct {
	analyzer     StockAnalyzer
	market       MarketView
	fundamentals FundamentalsSource
	coordinator  *scan.Coordinator
	watchlist    []string
	quickLimit   int
	history      history.Recorder
	breakers     func() []provider.BreakerStatus
	transport    func() (httpclient.ClientStats, bool)
	governors    *ratelimit.Manager
	cacheBackend string
	started      time.Time
}

// NewService assembles a Service from deps
func NewService(deps Deps) *Service {
	list := deps.Watchlist
	if len(list) == 0 {
		list = watchlist.Default()
	}
	rec := deps.History
	if rec == nil {
		rec = history.Noop{}
	}
	return &Service{
		analyzer:     deps.Analyzer,
		market:       deps.Market,
		fundamentals: deps.Fundamentals,
		coordinator:  deps.Coordinator,
		watchlist:    list,
		quickLimit:   deps.QuickLimit,
		history:      rec,
		breakers:     deps.Breakers,
		transport:    deps.Transport,
		governors:    deps.Governors,
		cacheBackend: deps.CacheBackend,
		started:      time.Now(),
	}
}

// Analyze scores symbol on timeframe. A nil Analysis with a nil error means
// the data needed to score the symbol was not available.
func (s *Service) Analyze(ctx context.Context, symbol, timeframe string) (*models.Analysis, error) {
	sym, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	tf := strings.TrimSpace(timeframe)
	if tf == "" {
		tf = DefaultTimeframe
	}
	if err := models.ValidateTimeframe(tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.analyzer.Analyze(ctx, sym, tf)
}

// Fundamentals holds whichever company documents the provider returned
type Fundamentals struct {
	Symbol        string            `json:"symbol"`
	Shareholdings provider.Document `json:"shareholdings,omitempty"`
	Financials    provider.Document `json:"financials,omitempty"`
}

// Fundamentals fetches shareholdings and financials for symbol. A nil result
// with a nil error means neither document was available.
func (s *Service) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	sym, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if s.fundamentals == nil {
		return nil, nil
	}
	out := &Fundamentals{Symbol: sym}
	if doc, err := s.fundamentals.Shareholdings(ctx, sym); err == nil {
		out.Shareholdings = doc
	}
	if doc, err := s.fundamentals.Financials(ctx, sym); err == nil {
		out.Financials = doc
	}
	if out.Shareholdings == nil && out.Financials == nil {
		return nil, nil
	}
	return out, nil
}

// MarketHealth computes market health and publishes it as a market_update event
func (s *Service) MarketHealth(ctx context.Context) models.MarketHealth {
	h := s.market.Health(ctx)
	s.coordinator.Bus().Publish(events.Event{Type: events.MarketUpdate, Data: h})
	return h
}

// BullishSectors lists sectors up at least minChange percent, strongest first
func (s *Service) BullishSectors(ctx context.Context, minChange float64) ([]models.SectorMove, error) {
	if math.IsNaN(minChange) || math.IsInf(minChange, 0) {
		return nil, fmt.Errorf("%w: min_change must be a finite number", ErrInvalidInput)
	}
	return s.market.BullishSectors(ctx, minChange), nil
}

// TrendingIndices lists indices by momentum, strongest first
func (s *Service) TrendingIndices(ctx context.Context) []models.IndexTrend {
	return s.market.TrendingIndices(ctx)
}

// ScanStart starts a background scan. With no symbols the watchlist is used;
// a quick scan takes only its first entries.
func (s *Service) ScanStart(mode string, full bool, symbols []string) (string, error) {
	m, err := models.ParseMode(strings.ToLower(strings.TrimSpace(mode)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	list := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		sym, err := cleanSymbol(raw)
		if err != nil {
			return "", err
		}
		list = append(list, sym)
	}
	if len(list) == 0 {
		list = watchlist.Select(s.watchlist, full, s.quickLimit)
	}

	runID, err := s.coordinator.Start(m, list)
	if err != nil {
		return "", err
	}
	log.Debug().Str("run_id", runID).Bool("full", full).Int("symbols", len(list)).Msg("Scan requested")
	return runID, nil
}

// ScanStatus returns the coordinator snapshot
func (s *Service) ScanStatus() models.ScanState {
	return s.coordinator.Status()
}

// ScanCancel stops the running scan after its current batch
func (s *Service) ScanCancel() bool {
	return s.coordinator.Cancel()
}

// ScanSubscribe registers a listener for scan and market events
func (s *Service) ScanSubscribe(h events.Handler) func() {
	return s.coordinator.Subscribe(h)
}

// ScanWait blocks until the running scan finishes
func (s *Service) ScanWait(ctx context.Context) error {
	return s.coordinator.Wait(ctx)
}

// Opportunities returns one page of ranked results for mode
func (s *Service) Opportunities(mode string, page, limit int) ([]models.Opportunity, models.Pagination, error) {
	m, err := models.ParseMode(strings.ToLower(strings.TrimSpace(mode)))
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.coordinator.Opportunities(m, page, limit)
}

// IsFresh reports whether the last scan in mode is still current
func (s *Service) IsFresh(mode models.Mode, full bool) bool {
	return s.coordinator.IsFresh(mode, full, time.Now())
}

// History lists recent scan runs, newest first
func (s *Service) History(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit < 0 || limit > 100 {
		return nil, fmt.Errorf("%w: limit must be between 0 and 100", ErrInvalidInput)
	}
	return s.history.Recent(ctx, limit)
}

// HealthReport describes the process for the /health endpoint
type HealthReport struct {
	Status       string                     `json:"status"`
	Uptime       string                     `json:"uptime"`
	CacheBackend string                     `json:"cache_backend"`
	Scan         models.ScanStatus          `json:"scan_status"`
	Breakers     []provider.BreakerStatus   `json:"breakers"`
	Governors    map[string]ratelimit.Stats `json:"governors"`
	Transport    *httpclient.ClientStats    `json:"transport,omitempty"`
}

// Health reports degraded when any breaker is open
func (s *Service) Health() HealthReport {
	r := HealthReport{
		Status:       "ok",
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		CacheBackend: s.cacheBackend,
		Scan:         s.coordinator.Status().Status,
		Breakers:     []provider.BreakerStatus{},
		Governors:    map[string]ratelimit.Stats{},
	}
	if s.breakers != nil {
		r.Breakers = s.breakers()
	}
	for _, b := range r.Breakers {
		if b.State == "open" {
			r.Status = "degraded"
		}
	}
	if s.governors != nil {
		r.Governors = s.governors.Stats()
	}
	if s.transport != nil {
		if st, ok := s.transport(); ok {
			r.Transport = &st
		}
	}
	return r
}

func cleanSymbol(raw string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if err := models.ValidateSymbol(sym); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return sym, nil
}
