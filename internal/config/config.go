package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete, immutable scanner configuration. It is built once by
// Load (or Default) and handed to constructors; nothing below cmd/ reads the
// environment.
type Config struct {
	Log        LogConfig       `yaml:"log"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Cache      CacheConfig     `yaml:"cache"`
	Indicators IndicatorConfig `yaml:"indicators"`
	Trading    TradingConfig   `yaml:"trading"`
	Scan       ScanConfig      `yaml:"scan"`
	Provider   ProviderConfig  `yaml:"provider"`
	HTTP       HTTPConfig      `yaml:"http"`
	History    HistoryConfig   `yaml:"history"`
	Schedule   ScheduleConfig  `yaml:"schedule"`
	Watchlist  WatchlistConfig `yaml:"watchlist"`
}

// LogConfig selects the zerolog level and output format
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto | console | json
}

// RateLimitConfig is the provider request budget
type RateLimitConfig struct {
	RPS      int      `yaml:"rps"`
	RPM      int      `yaml:"rpm"`
	RPH      int      `yaml:"rph"`
	MinDelay Duration `yaml:"min_delay"`
}

// CacheConfig selects the backend and per-class TTLs
type CacheConfig struct {
	Backend string      `yaml:"backend"` // in_memory | external_kv
	Redis   RedisConfig `yaml:"redis"`
	TTL     CacheTTLs   `yaml:"ttl"`
}

// RedisConfig addresses the external key-value service
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// CacheTTLs are cache lifetimes per key class. Zero disables caching for the class.
type CacheTTLs struct {
	MarketBreadth     Duration `yaml:"market_breadth"`
	SectorPerformance Duration `yaml:"sector_performance"`
	SupportResistance Duration `yaml:"support_resistance"`
	Candlestick       Duration `yaml:"candlestick"`
	TechnicalAnalysis Duration `yaml:"technical_analysis"`
	Shareholdings     Duration `yaml:"shareholdings"`
	Financials        Duration `yaml:"financials"`
}

// IndicatorConfig holds indicator periods and signal thresholds
type IndicatorConfig struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	MACDFast      int     `yaml:"macd_fast"`
	MACDSlow      int     `yaml:"macd_slow"`
	MACDSignal    int     `yaml:"macd_signal"`
	ADXPeriod     int     `yaml:"adx_period"`
	ADXStrong     float64 `yaml:"adx_strong"`
	VolumeTh      float64 `yaml:"volume_th"`
	VolumeWin     int     `yaml:"volume_window"`
	MinCandles    int     `yaml:"min_candles"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
}

// TradingConfig holds per-mode gates
type TradingConfig struct {
	Swing    ModeThresholds `yaml:"swing"`
	Intraday ModeThresholds `yaml:"intraday"`
}

// ModeThresholds gate a single scan mode
type ModeThresholds struct {
	Timeframe      string  `yaml:"timeframe"`
	MinScore       float64 `yaml:"min_score"`
	MinRR          float64 `yaml:"min_rr"`
	FallbackPct    float64 `yaml:"fallback_pct"`     // stop/target distance when S1/R1 missing
	MinVolumeRatio float64 `yaml:"min_volume_ratio"` // 0 disables the volume gate
	BearishBump    float64 `yaml:"bearish_bump"`     // added to min_score when the market is bearish
}

// ScanConfig controls batching and result freshness
type ScanConfig struct {
	QuickScanLimit int             `yaml:"quick_scan_limit"`
	BatchSize      int             `yaml:"batch_size"`
	BatchDelay     Duration        `yaml:"batch_delay"`
	Freshness      FreshnessConfig `yaml:"freshness"`
}

// FreshnessConfig is how long consumers should treat results as current
type FreshnessConfig struct {
	QuickSwing    Duration `yaml:"quick_swing"`
	FullSwing     Duration `yaml:"full_swing"`
	QuickIntraday Duration `yaml:"quick_intraday"`
	FullIntraday  Duration `yaml:"full_intraday"`
}

// ProviderConfig describes the upstream endpoints
type ProviderConfig struct {
	Endpoints    map[string]string `yaml:"endpoints"`
	Timeout      Duration          `yaml:"timeout"`
	UserID       string            `yaml:"user_id"`
	UserBrokerID string            `yaml:"user_broker_id"`
	MarketRetry  RetryConfig       `yaml:"market_retry"`
	SymbolRetry  RetryConfig       `yaml:"symbol_retry"`
	Breaker      BreakerConfig     `yaml:"breaker"`
	MaxConns     int               `yaml:"max_conns"`
	MaxIdle      int               `yaml:"max_idle"`
}

// RetryConfig is a linear backoff policy: wait Delay*attempt between attempts
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       Duration `yaml:"delay"`
}

// BreakerConfig configures the per-category circuit breakers
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	OpenTimeout         Duration `yaml:"open_timeout"`
	Interval            Duration `yaml:"interval"`
}

// HTTPConfig configures the JSON API server
type HTTPConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
}

// Addr returns host:port
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// HistoryConfig enables the Postgres scan-run recorder
type HistoryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// ScheduleConfig lists cron-driven scans
type ScheduleConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Timezone          string `yaml:"timezone"`
	IgnoreMarketHours bool   `yaml:"ignore_market_hours"`
	Jobs              []Job  `yaml:"jobs"`
}

// Job is one scheduled scan
type Job struct {
	Name string `yaml:"name"`
	Spec string `yaml:"spec"`
	Mode string `yaml:"mode"`
	Full bool   `yaml:"full"`
}

// WatchlistConfig points at an optional symbol file
type WatchlistConfig struct {
	File string `yaml:"file"`
}

// Endpoint keys
const (
	EndpointMarketBreadth     = "market_breadth"
	EndpointSectorPerformance = "sector_performance"
	EndpointSupportResistance = "support_resistance"
	EndpointCandlestick       = "candlestick"
	EndpointTechnicalAnalysis = "technical_analysis"
	EndpointShareholdings     = "shareholdings"
	EndpointFinancials        = "financials"
)

// Default returns the stock configuration
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		RateLimits: RateLimitConfig{
			RPS:      3,
			RPM:      180,
			RPH:      5000,
			MinDelay: Duration(350 * time.Millisecond),
		},
		Cache: CacheConfig{
			Backend: "in_memory",
			Redis: RedisConfig{
				Host:   "localhost",
				Port:   6379,
				Prefix: "nsescan:",
			},
			TTL: CacheTTLs{
				MarketBreadth:     Duration(15 * time.Minute),
				SectorPerformance: Duration(15 * time.Minute),
				TechnicalAnalysis: Duration(5 * time.Minute),
				Shareholdings:     Duration(24 * time.Hour),
				Financials:        Duration(24 * time.Hour),
			},
		},
		Indicators: IndicatorConfig{
			RSIPeriod:     14,
			MACDFast:      12,
			MACDSlow:      26,
			MACDSignal:    9,
			ADXPeriod:     14,
			ADXStrong:     25,
			VolumeTh:      1.5,
			VolumeWin:     20,
			MinCandles:    50,
			RSIOversold:   30,
			RSIOverbought: 70,
		},
		Trading: TradingConfig{
			Swing: ModeThresholds{
				Timeframe:   "day",
				MinScore:    50,
				MinRR:       1.0,
				FallbackPct: 0.05,
			},
			Intraday: ModeThresholds{
				Timeframe:      "5min",
				MinScore:       50,
				MinRR:          1.0,
				FallbackPct:    0.02,
				MinVolumeRatio: 1.2,
				BearishBump:    10,
			},
		},
		Scan: ScanConfig{
			QuickScanLimit: 50,
			BatchSize:      20,
			BatchDelay:     Duration(500 * time.Millisecond),
			Freshness: FreshnessConfig{
				QuickSwing:    Duration(300 * time.Second),
				FullSwing:     Duration(1800 * time.Second),
				QuickIntraday: Duration(180 * time.Second),
				FullIntraday:  Duration(900 * time.Second),
			},
		},
		Provider: ProviderConfig{
			Endpoints: map[string]string{
				EndpointMarketBreadth:     "https://api-v2.stockedge.com/Api/DailyDashboardApi/GetMarketBreadth",
				EndpointSectorPerformance: "https://api-v2.stockedge.com/Api/DailyDashboardApi/GetSectorPerformance",
				EndpointSupportResistance: "https://mo.streak.tech/api/sr_analysis_multi/",
				EndpointCandlestick:       "https://technicalwidget.streak.tech/api/candles/",
				EndpointTechnicalAnalysis: "https://technicalwidget.streak.tech/api/streak_tech_analysis/",
				EndpointShareholdings:     "https://api.tickertape.in/stocks/NSE/%s/shareholdings/",
				EndpointFinancials:        "https://api.tickertape.in/stocks/NSE/%s/financials/",
			},
			Timeout:     Duration(10 * time.Second),
			MarketRetry: RetryConfig{MaxAttempts: 3, Delay: Duration(2 * time.Second)},
			SymbolRetry: RetryConfig{MaxAttempts: 3, Delay: Duration(time.Second)},
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         Duration(60 * time.Second),
				Interval:            Duration(60 * time.Second),
			},
			MaxConns: 10,
			MaxIdle:  20,
		},
		HTTP: HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(35 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		History: HistoryConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: Duration(30 * time.Minute),
			QueryTimeout:    Duration(5 * time.Second),
		},
		Schedule: ScheduleConfig{
			Timezone: "Asia/Kolkata",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, an optional .env
// file and NSESCAN_* environment overrides, then validates it.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	applyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides secrets and addresses that should not live in YAML
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("NSESCAN_CACHE_BACKEND"); ok && v != "" {
		cfg.Cache.Backend = v
	}
	if v, ok := lookup("NSESCAN_REDIS_HOST"); ok && v != "" {
		cfg.Cache.Redis.Host = v
	}
	if v, ok := lookup("NSESCAN_REDIS_PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.Port = p
		}
	}
	if v, ok := lookup("NSESCAN_REDIS_PASSWORD"); ok {
		cfg.Cache.Redis.Password = v
	}
	if v, ok := lookup("NSESCAN_HISTORY_DSN"); ok && v != "" {
		cfg.History.DSN = v
		cfg.History.Enabled = true
	}
	if v, ok := lookup("NSESCAN_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := lookup("NSESCAN_HTTP_PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if err := c.Trading.Swing.Validate(); err != nil {
		return fmt.Errorf("trading.swing: %w", err)
	}
	if err := c.Trading.Intraday.Validate(); err != nil {
		return fmt.Errorf("trading.intraday: %w", err)
	}
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history: dsn is required when enabled")
	}
	for i, job := range c.Schedule.Jobs {
		if job.Spec == "" {
			return fmt.Errorf("schedule.jobs[%d]: spec cannot be empty", i)
		}
		if job.Mode != "swing" && job.Mode != "intraday" {
			return fmt.Errorf("schedule.jobs[%d]: unknown mode %q", i, job.Mode)
		}
	}
	return nil
}

// Validate ensures the budgets are usable
func (r *RateLimitConfig) Validate() error {
	if r.RPS <= 0 || r.RPM <= 0 || r.RPH <= 0 {
		return fmt.Errorf("rps, rpm and rph must be positive, got %d/%d/%d", r.RPS, r.RPM, r.RPH)
	}
	if r.RPM < r.RPS {
		return fmt.Errorf("rpm (%d) must be >= rps (%d)", r.RPM, r.RPS)
	}
	if r.RPH < r.RPM {
		return fmt.Errorf("rph (%d) must be >= rpm (%d)", r.RPH, r.RPM)
	}
	if r.MinDelay < 0 {
		return fmt.Errorf("min_delay cannot be negative")
	}
	return nil
}

// Validate checks the backend selector
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case "in_memory":
	case "external_kv":
		if c.Redis.Host == "" || c.Redis.Port <= 0 {
			return fmt.Errorf("redis host and port are required for external_kv")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// Validate checks indicator periods
func (i *IndicatorConfig) Validate() error {
	if i.RSIPeriod <= 0 || i.ADXPeriod <= 0 {
		return fmt.Errorf("rsi_period and adx_period must be positive")
	}
	if i.MACDFast <= 0 || i.MACDSlow <= i.MACDFast || i.MACDSignal <= 0 {
		return fmt.Errorf("macd periods must satisfy 0 < fast < slow and signal > 0")
	}
	if i.VolumeWin <= 0 {
		return fmt.Errorf("volume_window must be positive")
	}
	if i.MinCandles < i.MACDSlow {
		return fmt.Errorf("min_candles (%d) must cover macd_slow (%d)", i.MinCandles, i.MACDSlow)
	}
	return nil
}

// Validate checks a mode's gates
func (m *ModeThresholds) Validate() error {
	if m.Timeframe == "" {
		return fmt.Errorf("timeframe cannot be empty")
	}
	if m.MinScore < 0 || m.MinScore > 100 {
		return fmt.Errorf("min_score must be within [0,100], got %f", m.MinScore)
	}
	if m.MinRR <= 0 {
		return fmt.Errorf("min_rr must be positive, got %f", m.MinRR)
	}
	if m.FallbackPct <= 0 || m.FallbackPct >= 1 {
		return fmt.Errorf("fallback_pct must be within (0,1), got %f", m.FallbackPct)
	}
	return nil
}

// Validate checks batching
func (s *ScanConfig) Validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", s.BatchSize)
	}
	if s.QuickScanLimit <= 0 {
		return fmt.Errorf("quick_scan_limit must be positive, got %d", s.QuickScanLimit)
	}
	if s.BatchDelay < 0 {
		return fmt.Errorf("batch_delay cannot be negative")
	}
	return nil
}

// Validate checks endpoints and retry policies
func (p *ProviderConfig) Validate() error {
	for _, key := range []string{
		EndpointMarketBreadth, EndpointSectorPerformance, EndpointSupportResistance,
		EndpointCandlestick, EndpointTechnicalAnalysis, EndpointShareholdings, EndpointFinancials,
	} {
		if p.Endpoints[key] == "" {
			return fmt.Errorf("endpoint %s cannot be empty", key)
		}
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if p.MarketRetry.MaxAttempts <= 0 || p.SymbolRetry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if p.MaxConns <= 0 || p.MaxIdle <= 0 {
		return fmt.Errorf("max_conns and max_idle must be positive")
	}
	return nil
}
