// Package analyzer turns provider analysis or raw candles into a scored Analysis.
package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/indicators"
	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/provider"
)

// DataSource is the subset of the provider client the analyzer needs
type DataSource interface {
	Technical(ctx context.Context, symbol, timeframe string) (*provider.Technical, error)
	Candles(ctx context.Context, symbol, timeframe string) ([]models.Candle, error)
}

// Analyzer scores a symbol on a timeframe
type Analyzer struct {
	src    DataSource
	cfg    config.IndicatorConfig
	params indicators.Params
}

// New creates an analyzer with the given indicator configuration
func New(src DataSource, cfg config.IndicatorConfig) *Analyzer {
	return &Analyzer{
		src: src,
		cfg: cfg,
		params: indicators.Params{
			RSIPeriod:    cfg.RSIPeriod,
			MACDFast:     cfg.MACDFast,
			MACDSlow:     cfg.MACDSlow,
			MACDSignal:   cfg.MACDSignal,
			ADXPeriod:    cfg.ADXPeriod,
			VolumeWindow: cfg.VolumeWin,
		},
	}
}

// Analyze prefers the provider's pre-computed analysis and falls back to
// indicators computed from candles. A nil Analysis with a nil error means no
// data was available; an error is returned only for invalid input.
func (a *Analyzer) Analyze(ctx context.Context, symbol, timeframe string) (*models.Analysis, error) {
	if err := models.ValidateSymbol(symbol); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if err := models.ValidateTimeframe(timeframe); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	tech, err := a.src.Technical(ctx, symbol, timeframe)
	if err == nil && tech.Usable() {
		return a.fromProvider(symbol, timeframe, tech), nil
	}
	log.Debug().Str("symbol", symbol).Str("timeframe", timeframe).
		Str("reason", reason(err)).Msg("Provider analysis unusable, computing indicators")

	candles, err := a.src.Candles(ctx, symbol, timeframe)
	if err != nil {
		return nil, nil
	}
	if len(candles) < a.cfg.MinCandles {
		log.Debug().Str("symbol", symbol).Int("candles", len(candles)).
			Int("required", a.cfg.MinCandles).Msg("Not enough candles to analyze")
		return nil, nil
	}
	return a.fromCandles(symbol, timeframe, candles), nil
}

func reason(err error) string {
	if err == nil {
		return "status"
	}
	if k := provider.KindOf(err); k != "" {
		return string(k)
	}
	return err.Error()
}

func (a *Analyzer) fromProvider(symbol, timeframe string, t *provider.Technical) *models.Analysis {
	state := sign(t.State)
	recRSI := sign(t.RecRSI)
	recMACD := sign(t.RecMACD)
	strong := t.ADX != nil && *t.ADX > a.cfg.ADXStrong

	score := 50.0 +
		15*float64(state) +
		10*float64(recRSI) +
		15*float64(recMACD) +
		3*float64(sign(t.RecAO)+sign(t.RecCCI)+sign(t.RecStochK))
	if strong {
		score += 10
	}
	if t.WinPct != nil {
		switch {
		case *t.WinPct > 0.6:
			score += 10
		case *t.WinPct < 0.4:
			score -= 10
		}
	}

	volumeRatio := 1.0
	if t.AvgVolume > 0 {
		volumeRatio = round2(t.Volume / t.AvgVolume)
	}

	out := &models.Analysis{
		Symbol:       symbol,
		Timeframe:    timeframe,
		CurrentPrice: t.Close,
		RSI:          t.RSI,
		MACD:         t.MACD,
		MACDHist:     t.MACDHist,
		ADX:          t.ADX,
		VolumeRatio:  volumeRatio,
		Signals: models.Signals{
			models.SignalRSI:     direction(recRSI),
			models.SignalMACD:    direction(recMACD),
			models.SignalTrend:   trend(strong),
			models.SignalOverall: direction(state),
		},
		Score:  round2(clamp(score)),
		State:  state,
		Source: models.SourceProvider,
	}
	if t.WinPct != nil {
		out.WinRate = models.Float(round2(*t.WinPct * 100))
	}
	if t.WinSignals != nil && t.LossSignals != nil {
		out.TotalSignals = models.Int(*t.WinSignals + *t.LossSignals)
	}
	return out
}

func (a *Analyzer) fromCandles(symbol, timeframe string, candles []models.Candle) *models.Analysis {
	snap := indicators.Compute(candles, a.params)
	score := 50.0

	rsiSignal := models.Neutral
	if snap.RSI != nil {
		switch {
		case *snap.RSI < a.cfg.RSIOversold:
			rsiSignal = models.Oversold
			score += 15
		case *snap.RSI > a.cfg.RSIOverbought:
			rsiSignal = models.Overbought
			score -= 15
		}
	}

	macdSignal := models.Neutral
	if snap.MACD != nil {
		switch snap.MACD.Crossover() {
		case 1:
			macdSignal = models.BullishCrossover
			score += 20
		case -1:
			macdSignal = models.BearishCrossover
			score -= 20
		}
	}

	strong := snap.ADX != nil && *snap.ADX > a.cfg.ADXStrong
	if strong {
		score += 10
	}

	volumeSignal := models.Low
	if snap.VolumeRatio > a.cfg.VolumeTh {
		volumeSignal = models.High
		score += 5
	}

	out := &models.Analysis{
		Symbol:       symbol,
		Timeframe:    timeframe,
		CurrentPrice: candles[len(candles)-1].Close,
		VolumeRatio:  round2(snap.VolumeRatio),
		Signals: models.Signals{
			models.SignalRSI:    rsiSignal,
			models.SignalMACD:   macdSignal,
			models.SignalTrend:  trend(strong),
			models.SignalVolume: volumeSignal,
		},
		Score:  round2(clamp(score)),
		Source: models.SourceComputed,
	}
	if snap.RSI != nil {
		out.RSI = models.Float(round2(*snap.RSI))
	}
	if snap.MACD != nil {
		out.MACD = models.Float(round2(snap.MACD.MACD))
		out.MACDSignal = models.Float(round2(snap.MACD.Signal))
		out.MACDHist = models.Float(round2(snap.MACD.Hist))
	}
	if snap.ADX != nil {
		out.ADX = models.Float(round2(*snap.ADX))
	}
	return out
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func direction(s int) string {
	switch s {
	case 1:
		return models.Bullish
	case -1:
		return models.Bearish
	}
	return models.Neutral
}

func trend(strong bool) string {
	if strong {
		return models.Strong
	}
	return models.Weak
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
