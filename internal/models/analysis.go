package models

// Signal keys
const (
	SignalRSI     = "rsi"
	SignalMACD    = "macd"
	SignalTrend   = "trend"
	SignalOverall = "overall"
	SignalVolume  = "volume"
)

// Signal values
const (
	Bullish          = "bullish"
	Bearish          = "bearish"
	Neutral          = "neutral"
	Oversold         = "oversold"
	Overbought       = "overbought"
	BullishCrossover = "bullish_crossover"
	BearishCrossover = "bearish_crossover"
	Strong           = "strong"
	Weak             = "weak"
	High             = "high"
	Low              = "low"
)

// Analysis sources
const (
	SourceProvider = "provider"
	SourceComputed = "computed"
)

// Signals maps a signal key to a value from its closed vocabulary
type Signals map[string]string

// Analysis is the scored technical view of one symbol on one timeframe.
// Numeric fields other than CurrentPrice, VolumeRatio and Score are optional.
type Analysis struct {
	Symbol       string   `json:"symbol"`
	Timeframe    string   `json:"timeframe"`
	CurrentPrice float64  `json:"current_price"`
	RSI          *float64 `json:"rsi,omitempty"`
	MACD         *float64 `json:"macd,omitempty"`
	MACDSignal   *float64 `json:"macd_signal,omitempty"`
	MACDHist     *float64 `json:"macd_hist,omitempty"`
	ADX          *float64 `json:"adx,omitempty"`
	VolumeRatio  float64  `json:"volume_ratio"`
	Signals      Signals  `json:"signals"`
	Score        float64  `json:"score"`
	WinRate      *float64 `json:"win_rate,omitempty"`
	TotalSignals *int     `json:"total_signals,omitempty"`
	State        int      `json:"state"`
	Source       string   `json:"source"`
}

// Float returns a pointer to v, for optional fields
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional fields
func Int(v int) *int { return &v }
