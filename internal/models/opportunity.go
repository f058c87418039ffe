package models

// SupportResistance holds pivot levels. Any level may be missing.
type SupportResistance struct {
	PP    *float64 `json:"pp,omitempty"`
	R1    *float64 `json:"r1,omitempty"`
	R2    *float64 `json:"r2,omitempty"`
	R3    *float64 `json:"r3,omitempty"`
	S1    *float64 `json:"s1,omitempty"`
	S2    *float64 `json:"s2,omitempty"`
	S3    *float64 `json:"s3,omitempty"`
	Close *float64 `json:"close,omitempty"`
}

// Opportunity is an Analysis that passed the price-level and risk/reward gates
type Opportunity struct {
	Analysis
	Entry             float64           `json:"entry"`
	StopLoss          float64           `json:"stop_loss"`
	Target            float64           `json:"target"`
	RiskReward        float64           `json:"risk_reward"`
	SupportResistance SupportResistance `json:"support_resistance"`
	MarketHealth      *MarketHealth     `json:"market_health,omitempty"`
}
