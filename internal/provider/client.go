// Package provider is the typed façade over the third-party market data
// endpoints. Every call goes cache -> rate governor -> circuit breaker -> HTTP
// and returns a *Error for any outcome without data.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/data/cache"
	"github.com/sawpanic/nsescan/internal/infrastructure/httpclient"
	"github.com/sawpanic/nsescan/internal/models"
)

const maxBodySize = 8 << 20

// Call categories; each has its own retry policy and breaker
const (
	CategoryMarket = "market"
	CategorySymbol = "symbol"
)

// Doer issues one HTTP request
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Limiter admits one request to the named upstream host
type Limiter interface {
	Acquire(ctx context.Context, provider string) error
}

// Observer receives per-request telemetry
type Observer interface {
	ObserveRequest(endpoint, outcome string, d time.Duration)
	ObserveRetry(endpoint string)
	ObserveBreakerState(name, state string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, time.Duration) {}
func (nopObserver) ObserveRetry(string)                          {}
func (nopObserver) ObserveBreakerState(string, string)           {}

type noLimit struct{}

func (noLimit) Acquire(context.Context, string) error { return nil }

// Options carries the collaborators of a Client. Nil fields get defaults.
type Options struct {
	Cache    cache.Cache
	Limiter  Limiter
	HTTP     Doer
	Observer Observer
}

// Client fetches and decodes provider payloads
type Client struct {
	endpoints    map[string]string
	ttl          config.CacheTTLs
	policies     map[string]config.RetryConfig
	userID       string
	userBrokerID string

	cache    cache.Cache
	limiter  Limiter
	http     Doer
	breakers *Breakers
	observer Observer
}

// New builds a client for the configured endpoints
func New(cfg config.ProviderConfig, ttl config.CacheTTLs, opts Options) *Client {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Limiter == nil {
		opts.Limiter = noLimit{}
	}
	if opts.HTTP == nil {
		opts.HTTP = httpclient.NewClientPool(httpclient.ClientConfig{
			MaxConcurrency:  cfg.MaxConns,
			RequestTimeout:  cfg.Timeout.D(),
			MaxConnsPerHost: cfg.MaxConns,
			MaxIdleConns:    cfg.MaxIdle,
		})
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	c := &Client{
		endpoints:    cfg.Endpoints,
		ttl:          ttl,
		userID:       cfg.UserID,
		userBrokerID: cfg.UserBrokerID,
		policies: map[string]config.RetryConfig{
			CategoryMarket: cfg.MarketRetry,
			CategorySymbol: cfg.SymbolRetry,
		},
		cache:    opts.Cache,
		limiter:  opts.Limiter,
		http:     opts.HTTP,
		observer: opts.Observer,
	}
	c.breakers = NewBreakers(cfg.Breaker, func(name string, _, to gobreaker.State) {
		c.observer.ObserveBreakerState(name, to.String())
	})
	return c
}

// Breakers exposes breaker status for health reporting
func (c *Client) Breakers() []BreakerStatus {
	return c.breakers.Status()
}

// TransportStats returns the connection pool counters, or false when the
// client was built with a Doer that does not keep them
func (c *Client) TransportStats() (httpclient.ClientStats, bool) {
	p, ok := c.http.(interface{ GetStats() httpclient.ClientStats })
	if !ok {
		return httpclient.ClientStats{}, false
	}
	return p.GetStats(), true
}

// Hosts returns the distinct upstream hosts, used to register rate governors
func (c *Client) Hosts() []string {
	seen := map[string]bool{}
	var hosts []string
	for _, raw := range c.endpoints {
		u, err := url.Parse(strings.ReplaceAll(raw, "%s", "x"))
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// MarketBreadth returns the advance/decline counts
func (c *Client) MarketBreadth(ctx context.Context) (*Breadth, error) {
	const key = "market_breadth"
	var b Breadth
	if cache.GetJSON(c.cache, key, &b) {
		return &b, nil
	}

	raw, err := c.fetch(ctx, request{op: config.EndpointMarketBreadth, category: CategoryMarket,
		method: http.MethodGet, url: c.endpoints[config.EndpointMarketBreadth]})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, c.badResponse(config.EndpointMarketBreadth, "", err)
	}
	cache.SetJSON(c.cache, key, b, c.ttl.MarketBreadth.D())
	return &b, nil
}

// SectorPerformance returns the sector list
func (c *Client) SectorPerformance(ctx context.Context) ([]Sector, error) {
	const key = "sector_performance"
	var sectors []Sector
	if cache.GetJSON(c.cache, key, &sectors) {
		return sectors, nil
	}

	raw, err := c.fetch(ctx, request{op: config.EndpointSectorPerformance, category: CategoryMarket,
		method: http.MethodGet, url: c.endpoints[config.EndpointSectorPerformance]})
	if err != nil {
		return nil, err
	}
	sectors, err = decodeSectors(raw)
	if err != nil {
		return nil, c.badResponse(config.EndpointSectorPerformance, "", err)
	}
	cache.SetJSON(c.cache, key, sectors, c.ttl.SectorPerformance.D())
	return sectors, nil
}

// Technical returns the provider's analysis for symbol. The payload is returned
// even when its status marks it unusable; see Technical.Usable.
func (c *Client) Technical(ctx context.Context, symbol, timeframe string) (*Technical, error) {
	op := config.EndpointTechnicalAnalysis
	sym, err := c.symbol(op, symbol)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("tech_%s_%s", sym, timeframe)

	var t Technical
	if cache.GetJSON(c.cache, key, &t) {
		return &t, nil
	}

	u, err := c.symbolQuery(op, sym, timeframe)
	if err != nil {
		return nil, err
	}
	raw, err := c.fetch(ctx, request{op: op, symbol: sym, category: CategorySymbol, method: http.MethodGet, url: u})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, c.badResponse(op, sym, err)
	}
	cache.SetJSON(c.cache, key, t, c.ttl.TechnicalAnalysis.D())
	return &t, nil
}

// Candles returns chronological OHLCV bars. Candles are never cached.
func (c *Client) Candles(ctx context.Context, symbol, timeframe string) ([]models.Candle, error) {
	op := config.EndpointCandlestick
	sym, err := c.symbol(op, symbol)
	if err != nil {
		return nil, err
	}
	u, err := c.symbolQuery(op, sym, timeframe)
	if err != nil {
		return nil, err
	}
	raw, err := c.fetch(ctx, request{op: op, symbol: sym, category: CategorySymbol, method: http.MethodGet, url: u})
	if err != nil {
		return nil, err
	}

	candles, dropped, err := decodeCandles(raw)
	if err != nil {
		return nil, c.badResponse(op, sym, err)
	}
	if dropped > 0 {
		log.Debug().Str("symbol", sym).Int("dropped", dropped).Msg("Dropped malformed candle rows")
	}
	if len(candles) == 0 {
		return nil, &Error{Kind: KindInsufficientData, Op: op, Symbol: sym}
	}
	return candles, nil
}

// SupportResistanceMulti looks up pivot levels for several symbols in one call.
// The result is keyed by NSE_<symbol>.
func (c *Client) SupportResistanceMulti(ctx context.Context, symbols []string, timeframe string) (map[string]models.SupportResistance, error) {
	op := config.EndpointSupportResistance
	stocks := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym, err := c.symbol(op, s)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, "NSE_"+sym)
	}
	if len(stocks) == 0 {
		return map[string]models.SupportResistance{}, nil
	}

	body, err := json.Marshal(srRequest{TimeFrame: timeframe, Stocks: stocks, UserBrokerID: c.userBrokerID})
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	raw, err := c.fetch(ctx, request{op: op, category: CategorySymbol, method: http.MethodPost,
		url: c.endpoints[op], body: body})
	if err != nil {
		return nil, err
	}
	levels, err := decodeLevels(raw)
	if err != nil {
		return nil, c.badResponse(op, "", err)
	}
	return levels, nil
}

// SupportResistance looks up pivot levels for one symbol
func (c *Client) SupportResistance(ctx context.Context, symbol, timeframe string) (*models.SupportResistance, error) {
	levels, err := c.SupportResistanceMulti(ctx, []string{symbol}, timeframe)
	if err != nil {
		return nil, err
	}
	sym := models.NormalizeSymbol(symbol)
	sr, ok := levels["NSE_"+sym]
	if !ok {
		log.Debug().Str("symbol", sym).Msg("No support/resistance levels returned")
		return nil, &Error{Kind: KindSymbolNotFound, Op: config.EndpointSupportResistance, Symbol: sym}
	}
	return &sr, nil
}

// Shareholdings returns the shareholding pattern document
func (c *Client) Shareholdings(ctx context.Context, symbol string) (Document, error) {
	return c.document(ctx, config.EndpointShareholdings, "shareholdings_", symbol, c.ttl.Shareholdings.D())
}

// Financials returns the financial statements document
func (c *Client) Financials(ctx context.Context, symbol string) (Document, error) {
	return c.document(ctx, config.EndpointFinancials, "financials_", symbol, c.ttl.Financials.D())
}

func (c *Client) document(ctx context.Context, op, prefix, symbol string, ttl time.Duration) (Document, error) {
	sym, err := c.symbol(op, symbol)
	if err != nil {
		return nil, err
	}
	key := prefix + sym

	var doc Document
	if cache.GetJSON(c.cache, key, &doc) {
		return doc, nil
	}

	tmpl := c.endpoints[op]
	u := tmpl + url.PathEscape(sym)
	if strings.Contains(tmpl, "%s") {
		u = fmt.Sprintf(tmpl, url.PathEscape(sym))
	}
	raw, err := c.fetch(ctx, request{op: op, symbol: sym, category: CategorySymbol, method: http.MethodGet, url: u})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, c.badResponse(op, sym, err)
	}
	cache.SetJSON(c.cache, key, doc, ttl)
	return doc, nil
}

func (c *Client) symbol(op, symbol string) (string, error) {
	sym := models.NormalizeSymbol(symbol)
	if err := models.ValidateSymbol(sym); err != nil {
		return "", &Error{Kind: KindInvalidInput, Op: op, Symbol: symbol, Err: err}
	}
	return sym, nil
}

func (c *Client) symbolQuery(op, sym, timeframe string) (string, error) {
	u, err := url.Parse(c.endpoints[op])
	if err != nil {
		return "", &Error{Kind: KindInvalidInput, Op: op, Symbol: sym, Err: err}
	}
	q := u.Query()
	q.Set("stock", "NSE:"+sym)
	q.Set("timeFrame", timeframe)
	q.Set("user_id", c.userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) badResponse(op, symbol string, err error) error {
	log.Warn().Err(err).Str("op", op).Str("symbol", symbol).Msg("Unparseable provider response")
	return &Error{Kind: KindBadResponse, Op: op, Symbol: symbol, Err: err}
}

type request struct {
	op       string
	symbol   string
	category string
	method   string
	url      string
	body     []byte
}

// fetch runs the category's retry policy around single attempts. Network and
// 5xx failures are retried with linear backoff; a 429 is retried once; every
// other outcome is final.
func (c *Client) fetch(ctx context.Context, r request) ([]byte, error) {
	policy := c.policies[r.category]
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	retriedRateLimit := false
	for attempt := 1; attempt <= attempts; attempt++ {
		body, retryAfter, err := c.attempt(ctx, r)
		if err == nil {
			return body, nil
		}
		lastErr = err

		retry := false
		switch KindOf(err) {
		case KindNetwork, KindUnavailable:
			retry = !isShortCircuit(err)
		case KindRateLimited:
			retry = !retriedRateLimit
			retriedRateLimit = true
		}
		if !retry || attempt == attempts {
			break
		}

		wait := policy.Delay.D() * time.Duration(attempt)
		if retryAfter > wait {
			wait = retryAfter
		}
		log.Debug().
			Str("op", r.op).
			Str("symbol", r.symbol).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("Retrying provider request")
		c.observer.ObserveRetry(r.op)

		if serr := sleep(ctx, wait); serr != nil {
			return nil, &Error{Kind: KindCancelled, Op: r.op, Symbol: r.symbol, Err: serr}
		}
	}

	c.logFailure(r, lastErr)
	return nil, lastErr
}

func (c *Client) logFailure(r request, err error) {
	switch KindOf(err) {
	case KindSymbolNotFound, KindCancelled:
		log.Debug().Str("op", r.op).Str("symbol", r.symbol).Err(err).Msg("Provider returned no data")
	default:
		log.Warn().Str("op", r.op).Str("symbol", r.symbol).Err(err).Msg("Provider request failed")
	}
}

func (c *Client) attempt(ctx context.Context, r request) ([]byte, time.Duration, error) {
	u, err := url.Parse(r.url)
	if err != nil || u.Host == "" {
		return nil, 0, &Error{Kind: KindInvalidInput, Op: r.op, Symbol: r.symbol, Err: fmt.Errorf("bad endpoint url %q", r.url)}
	}
	if err := c.limiter.Acquire(ctx, u.Host); err != nil {
		return nil, 0, &Error{Kind: KindCancelled, Op: r.op, Symbol: r.symbol, Err: err}
	}

	var (
		body       []byte
		retryAfter time.Duration
	)
	start := time.Now()
	err = c.breakers.Execute(r.category, r.op, r.symbol, func() error {
		var reader io.Reader
		if r.body != nil {
			reader = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, reader)
		if err != nil {
			return &Error{Kind: KindInvalidInput, Op: r.op, Symbol: r.symbol, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if r.body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return &Error{Kind: KindCancelled, Op: r.op, Symbol: r.symbol, Err: ctx.Err()}
			}
			if !httpclient.IsRetryableError(err) {
				return &Error{Kind: KindBadResponse, Op: r.op, Symbol: r.symbol, Err: err}
			}
			return &Error{Kind: KindNetwork, Op: r.op, Symbol: r.symbol, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return &Error{Kind: KindNetwork, Op: r.op, Symbol: r.symbol, Status: resp.StatusCode, Err: err}
		}
		return c.classify(r, resp, data, &body, &retryAfter)
	})

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	c.observer.ObserveRequest(r.op, outcome, time.Since(start))
	return body, retryAfter, err
}

func (c *Client) classify(r request, resp *http.Response, data []byte, body *[]byte, retryAfter *time.Duration) error {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		*body = data
		return nil
	case r.category == CategorySymbol && (status == http.StatusBadRequest || status == http.StatusNotFound):
		return &Error{Kind: KindSymbolNotFound, Op: r.op, Symbol: r.symbol, Status: status}
	case status == http.StatusTooManyRequests:
		*retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return &Error{Kind: KindRateLimited, Op: r.op, Symbol: r.symbol, Status: status}
	case httpclient.IsRetryableStatus(status):
		return &Error{Kind: KindUnavailable, Op: r.op, Symbol: r.symbol, Status: status}
	default:
		return &Error{Kind: KindBadResponse, Op: r.op, Symbol: r.symbol, Status: status,
			Err: errors.New(http.StatusText(status))}
	}
}

// parseRetryAfter reads a delay-seconds Retry-After header, capped at 30s
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
