package httpclient

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig configures the shared connection pool
type ClientConfig struct {
	MaxConcurrency  int
	RequestTimeout  time.Duration
	MaxConnsPerHost int
	MaxIdleConns    int
	UserAgents      []string
}

// DefaultUserAgents is the fixed pool of desktop browser strings rotated per request
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// DefaultConfig returns the pool sizing used against the market data hosts
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxConcurrency:  10,
		RequestTimeout:  10 * time.Second,
		MaxConnsPerHost: 10,
		MaxIdleConns:    20,
		UserAgents:      DefaultUserAgents,
	}
}

// ClientPool is a single http.Client shared by every provider call, with a
// concurrency cap and a rotating User-Agent.
type ClientPool struct {
	config    ClientConfig
	semaphore chan struct{}
	client    *http.Client

	mu    sync.Mutex
	rnd   *rand.Rand
	stats ClientStats
}

// ClientStats counts pool activity
type ClientStats struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessRequests int64         `json:"success_requests"`
	FailedRequests  int64         `json:"failed_requests"`
	TimeoutRequests int64         `json:"timeout_requests"`
	TotalLatency    time.Duration `json:"total_latency"`
}

// NewClientPool builds the pool. Zero fields take DefaultConfig values.
func NewClientPool(config ClientConfig) *ClientPool {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.MaxConnsPerHost <= 0 {
		config.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = def.MaxIdleConns
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = def.UserAgents
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = config.MaxConnsPerHost
	transport.MaxIdleConns = config.MaxIdleConns
	transport.MaxIdleConnsPerHost = config.MaxConnsPerHost

	return &ClientPool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: transport,
		},
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do issues a single request. Retrying is the caller's policy.
func (cp *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case cp.semaphore <- struct{}{}:
		defer func() { <-cp.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", cp.UserAgent())
	}

	start := time.Now()
	resp, err := cp.client.Do(req.WithContext(ctx))
	latency := time.Since(start)

	cp.mu.Lock()
	cp.stats.TotalRequests++
	cp.stats.TotalLatency += latency
	switch {
	case err == nil:
		cp.stats.SuccessRequests++
	case IsTimeout(err):
		cp.stats.TimeoutRequests++
		cp.stats.FailedRequests++
	default:
		cp.stats.FailedRequests++
	}
	cp.mu.Unlock()

	log.Debug().
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Dur("latency", latency).
		Err(err).
		Msg("HTTP request")

	return resp, err
}

// UserAgent picks a random entry from the pool
func (cp *ClientPool) UserAgent() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.config.UserAgents[cp.rnd.Intn(len(cp.config.UserAgents))]
}

// GetStats returns a copy of the counters
func (cp *ClientPool) GetStats() ClientStats {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.stats
}

// IsTimeout reports whether err is a client or transport timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryableError reports whether a transport error is worth another attempt.
// Cancellation by the caller is never retryable, and neither are failures
// that will repeat as-is (TLS verification, bad scheme, redirect loops).
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "no such host", "network is unreachable", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRetryableStatus reports whether an HTTP status is transient
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return statusCode > 500
}
