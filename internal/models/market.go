package models

// Market health bands
const (
	HealthBullish = "bullish"
	HealthNeutral = "neutral"
	HealthBearish = "bearish"
	HealthUnknown = "unknown"
)

// MarketHealth summarises breadth and sector participation
type MarketHealth struct {
	Health          string  `json:"health"`
	Score           float64 `json:"score"`
	ADRatio         float64 `json:"ad_ratio"`
	Advancing       int     `json:"advancing"`
	Declining       int     `json:"declining"`
	Total           int     `json:"total"`
	SectorScore     float64 `json:"sector_score"`
	PositiveSectors int     `json:"positive_sectors"`
	TotalSectors    int     `json:"total_sectors"`
}

// IsBearish reports whether the market is in the bearish band
func (m *MarketHealth) IsBearish() bool {
	return m != nil && m.Health == HealthBearish
}

// SectorMove is a sector that is up by at least the requested change
type SectorMove struct {
	Name      string  `json:"name"`
	Change    float64 `json:"change"`
	Advancing int     `json:"advancing"`
	Total     int     `json:"total"`
}

// IndexTrend is an index ordered by momentum
type IndexTrend struct {
	Index         string  `json:"index"`
	Momentum      float64 `json:"momentum"`
	ChangePercent float64 `json:"change_percent"`
	Price         float64 `json:"price"`
}
