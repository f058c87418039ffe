package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.RateLimits.RPS)
	assert.Equal(t, 180, cfg.RateLimits.RPM)
	assert.Equal(t, 5000, cfg.RateLimits.RPH)
	assert.Equal(t, 350*time.Millisecond, cfg.RateLimits.MinDelay.D())
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL.MarketBreadth.D())
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.TechnicalAnalysis.D())
	assert.Zero(t, cfg.Cache.TTL.Candlestick)
	assert.Zero(t, cfg.Cache.TTL.SupportResistance)
	assert.Equal(t, 20, cfg.Scan.BatchSize)
	assert.Equal(t, 1.2, cfg.Trading.Intraday.MinVolumeRatio)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nsescan.yaml")
	yml := `
rate_limits:
  rps: 5
  rpm: 200
  rph: 6000
  min_delay: 200ms
cache:
  backend: external_kv
  redis:
    host: cache.internal
    port: 6380
scan:
  batch_size: 10
  batch_delay: 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("NSESCAN_REDIS_PASSWORD=s3cret\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("NSESCAN_REDIS_PASSWORD") })

	cfg, err := Load(path, envPath)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimits.RPS)
	assert.Equal(t, 200*time.Millisecond, cfg.RateLimits.MinDelay.D())
	assert.Equal(t, "external_kv", cfg.Cache.Backend)
	assert.Equal(t, "cache.internal:6380", cfg.Cache.Redis.Addr())
	assert.Equal(t, "s3cret", cfg.Cache.Redis.Password)
	assert.Equal(t, 10, cfg.Scan.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scan.BatchDelay.D())
	// untouched sections keep their defaults
	assert.Equal(t, 14, cfg.Indicators.RSIPeriod)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestApplyEnvHistoryDSN(t *testing.T) {
	cfg := Default()
	env := map[string]string{"NSESCAN_HISTORY_DSN": "postgres://scan@db/nsescan"}
	applyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "postgres://scan@db/nsescan", cfg.History.DSN)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero rps":        func(c *Config) { c.RateLimits.RPS = 0 },
		"rpm below rps":   func(c *Config) { c.RateLimits.RPM = 1 },
		"unknown backend": func(c *Config) { c.Cache.Backend = "memcached" },
		"batch size":      func(c *Config) { c.Scan.BatchSize = 0 },
		"missing endpoint": func(c *Config) {
			c.Provider.Endpoints = map[string]string{EndpointCandlestick: "http://x"}
		},
		"macd order":   func(c *Config) { c.Indicators.MACDSlow = 5 },
		"history dsn":  func(c *Config) { c.History.Enabled = true },
		"bad job mode": func(c *Config) { c.Schedule.Jobs = []Job{{Spec: "* * * * *", Mode: "weekly"}} },
		"min rr":       func(c *Config) { c.Trading.Swing.MinRR = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "nsescan.yaml"), "")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.RateLimits, cfg.RateLimits)
	assert.Equal(t, def.Cache.TTL, cfg.Cache.TTL)
	assert.Equal(t, def.Trading, cfg.Trading)
	assert.Equal(t, def.Scan, cfg.Scan)
	assert.Equal(t, def.HTTP, cfg.HTTP)
	require.Len(t, cfg.Schedule.Jobs, 2)
	assert.Equal(t, "swing-open", cfg.Schedule.Jobs[0].Name)
	assert.Len(t, cfg.Provider.Endpoints, len(def.Provider.Endpoints))
}
