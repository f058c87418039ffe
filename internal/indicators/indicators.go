// Package indicators computes the technical indicators used when the provider
// has no pre-computed analysis. All functions are pure; a false second return
// means the input was too short for the indicator to be defined.
package indicators

import (
	"math"

	"github.com/sawpanic/nsescan/internal/models"
)

// Params are the indicator periods
type Params struct {
	RSIPeriod    int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	ADXPeriod    int
	VolumeWindow int
}

// DefaultParams returns RSI 14, MACD 12/26/9, ADX 14 and a 20-bar volume window
func DefaultParams() Params {
	return Params{
		RSIPeriod:    14,
		MACDFast:     12,
		MACDSlow:     26,
		MACDSignal:   9,
		ADXPeriod:    14,
		VolumeWindow: 20,
	}
}

// RSI uses simple means of gains and losses over the last period changes.
// Requires len(closes) >= period+1.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return 0, false
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// EMA is a span-based exponential average seeded with the first value
// (alpha = 2/(span+1), no bias adjustment).
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || span <= 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDResult holds the last two bars of the MACD line and its signal
type MACDResult struct {
	MACD       float64
	Signal     float64
	Hist       float64
	PrevMACD   float64
	PrevSignal float64
}

// Crossover returns +1 when MACD crossed above signal on the last bar,
// -1 when it crossed below, otherwise 0.
func (m MACDResult) Crossover() int {
	prev := m.PrevMACD - m.PrevSignal
	cur := m.MACD - m.Signal
	switch {
	case prev <= 0 && cur > 0:
		return 1
	case prev >= 0 && cur < 0:
		return -1
	}
	return 0
}

// MACD computes fast-slow EMA difference, its signal EMA and histogram.
// Requires len(closes) >= slow.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow || len(closes) < 2 {
		return MACDResult{}, false
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)

	n := len(closes) - 1
	return MACDResult{
		MACD:       line[n],
		Signal:     sig[n],
		Hist:       line[n] - sig[n],
		PrevMACD:   line[n-1],
		PrevSignal: sig[n-1],
	}, true
}

// ADX computes the average directional index from rolling means of true range
// and directional movement. Requires at least 2*period bars.
func ADX(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < 2*period || len(highs) != n || len(lows) != n {
		return 0, false
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// DX is defined from bar `period` onward (the first full window of moves)
	dx := make([]float64, 0, n-period)
	for i := period; i < n; i++ {
		var sumTR, sumPlus, sumMinus float64
		for j := i - period + 1; j <= i; j++ {
			sumTR += tr[j]
			sumPlus += plusDM[j]
			sumMinus += minusDM[j]
		}
		var plusDI, minusDI float64
		if sumTR > 0 {
			plusDI = 100 * sumPlus / sumTR
			minusDI = 100 * sumMinus / sumTR
		}
		v := 0.0
		if plusDI+minusDI > 0 {
			v = 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
		}
		dx = append(dx, v)
	}
	if len(dx) < period {
		return 0, false
	}

	sum := 0.0
	for _, v := range dx[len(dx)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// VolumeRatio is the last volume over the mean of the last window volumes.
// It is 1.0 when the mean is zero or there is no data.
func VolumeRatio(volumes []float64, window int) float64 {
	if len(volumes) == 0 || window <= 0 {
		return 1.0
	}
	start := len(volumes) - window
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, v := range volumes[start:] {
		sum += v
	}
	mean := sum / float64(len(volumes)-start)
	if mean <= 0 {
		return 1.0
	}
	return volumes[len(volumes)-1] / mean
}

// Snapshot bundles every indicator for one candle series
type Snapshot struct {
	RSI         *float64
	MACD        *MACDResult
	ADX         *float64
	VolumeRatio float64
}

// Compute evaluates all indicators over candles
func Compute(candles []models.Candle, p Params) Snapshot {
	closes := models.Closes(candles)

	var snap Snapshot
	if v, ok := RSI(closes, p.RSIPeriod); ok {
		snap.RSI = &v
	}
	if m, ok := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal); ok {
		snap.MACD = &m
	}
	if v, ok := ADX(models.Highs(candles), models.Lows(candles), closes, p.ADXPeriod); ok {
		snap.ADX = &v
	}
	snap.VolumeRatio = VolumeRatio(models.Volumes(candles), p.VolumeWindow)
	return snap
}
