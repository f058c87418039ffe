// Package scanner evaluates symbols against a trading mode and ranks the
// survivors as opportunities with entry, stop and target levels.
package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/models"
)

// SkipReason records why a symbol produced no opportunity
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipNoAnalysis SkipReason = "no_analysis"
	SkipLowScore   SkipReason = "low_score"
	SkipLowVolume  SkipReason = "low_volume"
	SkipNoLevels   SkipReason = "no_levels"
	SkipNoRisk     SkipReason = "no_risk"
	SkipLowRR      SkipReason = "low_rr"
)

// Analyzer scores one symbol
type Analyzer interface {
	Analyze(ctx context.Context, symbol, timeframe string) (*models.Analysis, error)
}

// Levels looks up pivot levels for one symbol
type Levels interface {
	SupportResistance(ctx context.Context, symbol, timeframe string) (*models.SupportResistance, error)
}

// HealthSource summarises the market
type HealthSource interface {
	Health(ctx context.Context) models.MarketHealth
}

// ModeConfig is the resolved gate set for one mode
type ModeConfig struct {
	Mode            models.Mode
	Timeframe       string
	MinScore        float64
	MinRR           float64
	FallbackPct     float64
	MinVolumeRatio  float64
	BearishBump     float64
	UseMarketHealth bool
}

// ModeConfigs resolves the trading thresholds for both modes
func ModeConfigs(cfg config.TradingConfig) map[models.Mode]ModeConfig {
	return map[models.Mode]ModeConfig{
		models.ModeSwing: {
			Mode:        models.ModeSwing,
			Timeframe:   cfg.Swing.Timeframe,
			MinScore:    cfg.Swing.MinScore,
			MinRR:       cfg.Swing.MinRR,
			FallbackPct: cfg.Swing.FallbackPct,
		},
		models.ModeIntraday: {
			Mode:            models.ModeIntraday,
			Timeframe:       cfg.Intraday.Timeframe,
			MinScore:        cfg.Intraday.MinScore,
			MinRR:           cfg.Intraday.MinRR,
			FallbackPct:     cfg.Intraday.FallbackPct,
			MinVolumeRatio:  cfg.Intraday.MinVolumeRatio,
			BearishBump:     cfg.Intraday.BearishBump,
			UseMarketHealth: true,
		},
	}
}

// Scanner evaluates watchlists
type Scanner struct {
	analyzer Analyzer
	levels   Levels
	market   HealthSource
	modes    map[models.Mode]ModeConfig
}

// New creates a scanner. market may be nil, in which case market health is never applied.
func New(analyzer Analyzer, levels Levels, market HealthSource, cfg config.TradingConfig) *Scanner {
	return &Scanner{
		analyzer: analyzer,
		levels:   levels,
		market:   market,
		modes:    ModeConfigs(cfg),
	}
}

// Mode returns the configuration for mode
func (s *Scanner) Mode(mode models.Mode) (ModeConfig, bool) {
	cfg, ok := s.modes[mode]
	return cfg, ok
}

// Run holds the per-scan state computed once before the first symbol
type Run struct {
	scanner  *Scanner
	cfg      ModeConfig
	minScore float64
	health   *models.MarketHealth
}

// Begin prepares a scan in mode, fetching market health when the mode uses it
func (s *Scanner) Begin(ctx context.Context, mode models.Mode) (*Run, error) {
	cfg, ok := s.modes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", models.ErrInvalidInput, mode)
	}

	r := &Run{scanner: s, cfg: cfg, minScore: cfg.MinScore}
	if cfg.UseMarketHealth && s.market != nil {
		h := s.market.Health(ctx)
		r.health = &h
		if h.IsBearish() {
			r.minScore += cfg.BearishBump
		}
		log.Debug().Str("mode", string(mode)).Str("health", h.Health).
			Float64("min_score", r.minScore).Msg("Market health applied to scan")
	}
	return r, nil
}

// MinScore is the effective score gate for this run
func (r *Run) MinScore() float64 { return r.minScore }

// Health is the market health computed at Begin, if any
func (r *Run) Health() *models.MarketHealth { return r.health }

// Mode is the run's mode configuration
func (r *Run) Mode() ModeConfig { return r.cfg }

// Evaluate turns one symbol into an opportunity or a skip reason
func (r *Run) Evaluate(ctx context.Context, symbol string) (*models.Opportunity, SkipReason) {
	a, err := r.scanner.analyzer.Analyze(ctx, symbol, r.cfg.Timeframe)
	if err != nil || a == nil {
		return nil, SkipNoAnalysis
	}
	if a.Score < r.minScore {
		return nil, SkipLowScore
	}
	if r.cfg.MinVolumeRatio > 0 && a.VolumeRatio < r.cfg.MinVolumeRatio {
		return nil, SkipLowVolume
	}

	sr, err := r.scanner.levels.SupportResistance(ctx, symbol, r.cfg.Timeframe)
	if err != nil || sr == nil {
		return nil, SkipNoLevels
	}

	current := round2(a.CurrentPrice)
	stop := round2(current * (1 - r.cfg.FallbackPct))
	if sr.S1 != nil {
		stop = round2(*sr.S1)
	}
	target := round2(current * (1 + r.cfg.FallbackPct))
	if sr.R1 != nil {
		target = round2(*sr.R1)
	}

	risk := current - stop
	if risk <= 0 {
		return nil, SkipNoRisk
	}
	rr := (target - current) / risk
	if rr < r.cfg.MinRR {
		return nil, SkipLowRR
	}

	opp := &models.Opportunity{
		Analysis:          *a,
		Entry:             current,
		StopLoss:          stop,
		Target:            target,
		RiskReward:        round2(rr),
		SupportResistance: *sr,
	}
	if r.cfg.UseMarketHealth && r.health != nil {
		h := *r.health
		opp.MarketHealth = &h
	}
	return opp, SkipNone
}

// Result is the outcome of a complete scan
type Result struct {
	Opportunities []models.Opportunity
	Skipped       map[SkipReason]int
	Health        *models.MarketHealth
}

// Scan evaluates every symbol sequentially and ranks the result
func (s *Scanner) Scan(ctx context.Context, mode models.Mode, symbols []string) (Result, error) {
	run, err := s.Begin(ctx, mode)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Opportunities: []models.Opportunity{},
		Skipped:       map[SkipReason]int{},
		Health:        run.Health(),
	}
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		opp, reason := run.Evaluate(ctx, sym)
		if opp == nil {
			res.Skipped[reason]++
			continue
		}
		res.Opportunities = append(res.Opportunities, *opp)
	}
	Rank(res.Opportunities)
	return res, ctx.Err()
}

// Rank orders opportunities by score, highest first, keeping input order on ties
func Rank(opps []models.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool { return opps[i].Score > opps[j].Score })
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
