package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/analyzer"
	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/data/cache"
	"github.com/sawpanic/nsescan/internal/events"
	"github.com/sawpanic/nsescan/internal/market"
	"github.com/sawpanic/nsescan/internal/metrics"
	"github.com/sawpanic/nsescan/internal/net/ratelimit"
	"github.com/sawpanic/nsescan/internal/persistence/history"
	"github.com/sawpanic/nsescan/internal/provider"
	"github.com/sawpanic/nsescan/internal/scan"
	"github.com/sawpanic/nsescan/internal/scanner"
	"github.com/sawpanic/nsescan/internal/watchlist"
)

const janitorInterval = time.Minute

// BuildOptions override parts of the default wiring
type BuildOptions struct {
	Metrics   *metrics.Registry
	HTTP      provider.Doer
	Watchlist []string
}

// App is a fully wired process
type App struct {
	Service  *Service
	Metrics  *metrics.Registry
	Provider *provider.Client
	closers  []func() error
}

// Close releases the cache, history database and background janitor
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires every component from cfg
func Build(cfg *config.Config, opts BuildOptions) (*App, error) {
	app := &App{Metrics: opts.Metrics}
	if app.Metrics == nil {
		app.Metrics = metrics.New()
	}

	store, backend := cache.New(cfg.Cache)
	switch c := store.(type) {
	case *cache.Memory:
		c.StartJanitor(janitorInterval)
		app.closers = append(app.closers, func() error { c.Stop(); return nil })
	case *cache.Redis:
		app.closers = append(app.closers, c.Close)
	}

	governors := ratelimit.NewManager(app.Metrics)
	client := provider.New(cfg.Provider, cfg.Cache.TTL, provider.Options{
		Cache:    cache.Instrument(store, app.Metrics),
		Limiter:  governors,
		HTTP:     opts.HTTP,
		Observer: app.Metrics,
	})
	budget := ratelimit.Config{
		RPS:      cfg.RateLimits.RPS,
		RPM:      cfg.RateLimits.RPM,
		RPH:      cfg.RateLimits.RPH,
		MinDelay: cfg.RateLimits.MinDelay.D(),
	}
	for _, host := range client.Hosts() {
		governors.AddProvider(host, budget)
	}
	app.Provider = client

	stocks := analyzer.New(client, cfg.Indicators)
	mkt := market.New(client)
	engine := scanner.New(stocks, client, mkt, cfg.Trading)

	var recorder history.Recorder = history.Noop{}
	if cfg.History.Enabled {
		recorder = openHistory(cfg.History)
	}
	app.closers = append(app.closers, recorder.Close)

	list := opts.Watchlist
	if len(list) == 0 {
		var err error
		if list, err = watchlist.Load(cfg.Watchlist.File); err != nil {
			app.Close()
			return nil, err
		}
	}

	coord := scan.New(engine, cfg.Scan, scan.Options{
		Bus:      events.NewBus(),
		Recorder: recorder,
		Observer: app.Metrics,
	})

	app.Service = NewService(Deps{
		Analyzer:     stocks,
		Market:       mkt,
		Fundamentals: client,
		Coordinator:  coord,
		Watchlist:    list,
		QuickLimit:   cfg.Scan.QuickScanLimit,
		History:      recorder,
		Breakers:     client.Breakers,
		Transport:    client.TransportStats,
		Governors:    governors,
		CacheBackend: backend,
	})

	log.Info().
		Str("cache", backend).
		Int("hosts", len(client.Hosts())).
		Int("watchlist", len(list)).
		Bool("history", cfg.History.Enabled).
		Msg("Application wired")
	return app, nil
}

// openHistory falls back to Noop when the database is unreachable
func openHistory(cfg config.HistoryConfig) history.Recorder {
	pg, err := history.Open(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Scan history disabled")
		return history.Noop{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("Scan history disabled")
		pg.Close()
		return history.Noop{}
	}
	return pg
}
