package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sawpanic/nsescan/internal/models"
)

// Breadth is the market-wide advance/decline payload
type Breadth struct {
	Advancing int          `json:"advancing"`
	Declining int          `json:"declining"`
	Unchanged int          `json:"unchanged"`
	Total     int          `json:"total"`
	Indices   []IndexQuote `json:"indices,omitempty"`
}

// IndexQuote is one index row carried in the breadth payload
type IndexQuote struct {
	Index         string  `json:"index"`
	Momentum      float64 `json:"momentum"`
	ChangePercent float64 `json:"changePercent"`
	Price         float64 `json:"price"`
}

// Sector is one row of the sector performance payload
type Sector struct {
	Name          string  `json:"name"`
	ChangePercent float64 `json:"changePercent"`
	Advancing     int     `json:"advancing"`
	Total         int     `json:"total"`
}

// decodeSectors accepts either a bare list or {"sectors": [...]}
func decodeSectors(raw []byte) ([]Sector, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var list []Sector
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped struct {
		Sectors []Sector `json:"sectors"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Sectors == nil {
		return nil, fmt.Errorf("sector payload has no sectors")
	}
	return wrapped.Sectors, nil
}

// Technical is the provider's pre-computed analysis. Recommendation fields are
// -1, 0 or 1 but arrive as JSON numbers of either kind.
type Technical struct {
	Status      int      `json:"status"`
	Close       float64  `json:"close"`
	RSI         *float64 `json:"rsi"`
	MACD        *float64 `json:"macd"`
	MACDHist    *float64 `json:"macdHist"`
	ADX         *float64 `json:"adx"`
	RecRSI      float64  `json:"rec_rsi"`
	RecMACD     float64  `json:"rec_macd"`
	RecADX      float64  `json:"rec_adx"`
	State       float64  `json:"state"`
	WinSignals  *int     `json:"win_signals"`
	LossSignals *int     `json:"loss_signals"`
	WinPct      *float64 `json:"win_pct"`
	EMA5        *float64 `json:"ema5"`
	EMA20       *float64 `json:"ema20"`
	SMA50       *float64 `json:"sma50"`
	SMA200      *float64 `json:"sma200"`
	RecAO       float64  `json:"rec_ao"`
	RecCCI      float64  `json:"rec_cci"`
	RecStochK   float64  `json:"rec_stochastic_k"`
	Volume      float64  `json:"volume"`
	AvgVolume   float64  `json:"avgVolume"`
}

// Usable reports whether the analysis can be scored
func (t *Technical) Usable() bool {
	return t != nil && t.Status == 1
}

// Document is an untyped fundamentals payload (shareholdings, financials)
type Document map[string]json.RawMessage

type candleResponse struct {
	Status int                 `json:"status"`
	Data   [][]json.RawMessage `json:"data"`
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epoch(n), nil
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %s", string(raw))
	}
	return epoch(int64(n)), nil
}

// epoch handles both seconds and milliseconds
func epoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// decodeCandles parses [[ts, o, h, l, c, v], ...] rows. Malformed rows are dropped.
func decodeCandles(raw []byte) ([]models.Candle, int, error) {
	var resp candleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, 0, err
	}

	candles := make([]models.Candle, 0, len(resp.Data))
	dropped := 0
	for _, row := range resp.Data {
		c, ok := decodeCandleRow(row)
		if !ok {
			dropped++
			continue
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, dropped, nil
}

func decodeCandleRow(row []json.RawMessage) (models.Candle, bool) {
	if len(row) < 6 {
		return models.Candle{}, false
	}
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return models.Candle{}, false
	}
	var vals [5]float64
	for i := range vals {
		if err := json.Unmarshal(row[i+1], &vals[i]); err != nil {
			return models.Candle{}, false
		}
	}
	return models.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, true
}

type srRequest struct {
	TimeFrame    string   `json:"time_frame"`
	Stocks       []string `json:"stocks"`
	UserBrokerID string   `json:"user_broker_id"`
}

// decodeLevels accepts {"NSE_X": {...}} optionally wrapped in {"data": ...}
func decodeLevels(raw []byte) (map[string]models.SupportResistance, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	if inner, ok := top["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil {
			top = nested
		}
	}

	out := make(map[string]models.SupportResistance, len(top))
	for key, body := range top {
		var sr models.SupportResistance
		if err := json.Unmarshal(body, &sr); err != nil {
			continue
		}
		out[key] = sr
	}
	return out, nil
}
