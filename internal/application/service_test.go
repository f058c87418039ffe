package application

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/events"
	"github.com/sawpanic/nsescan/internal/infrastructure/httpclient"
	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/provider"
	"github.com/sawpanic/nsescan/internal/scan"
	"github.com/sawpanic/nsescan/internal/scanner"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, symbol, timeframe string) (*models.Analysis, error) {
	args := m.Called(ctx, symbol, timeframe)
	a, _ := args.Get(0).(*models.Analysis)
	return a, args.Error(1)
}

type stubMarket struct {
	health  models.MarketHealth
	sectors []models.SectorMove
	minSeen float64
}

func (s *stubMarket) Health(context.Context) models.MarketHealth { return s.health }

func (s *stubMarket) BullishSectors(_ context.Context, min float64) []models.SectorMove {
	s.minSeen = min
	return s.sectors
}

func (s *stubMarket) TrendingIndices(context.Context) []models.IndexTrend {
	return []models.IndexTrend{{Index: "NIFTY 50", Momentum: 2}}
}

type recordingAnalyzer struct {
	mu      sync.Mutex
	symbols []string
}

func (r *recordingAnalyzer) Analyze(_ context.Context, symbol, timeframe string) (*models.Analysis, error) {
	r.mu.Lock()
	r.symbols = append(r.symbols, symbol)
	r.mu.Unlock()
	return &models.Analysis{Symbol: symbol, Timeframe: timeframe, Score: 80, CurrentPrice: 100, VolumeRatio: 2}, nil
}

func (r *recordingAnalyzer) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.symbols...)
}

type levels struct{}

func (levels) SupportResistance(context.Context, string, string) (*models.SupportResistance, error) {
	return &models.SupportResistance{S1: models.Float(95), R1: models.Float(115)}, nil
}

func newService(t *testing.T, a StockAnalyzer, m MarketView, list []string) (*Service, *recordingAnalyzer) {
	t.Helper()
	rec := &recordingAnalyzer{}
	cfg := config.Default()
	cfg.Scan.BatchDelay = config.Duration(time.Millisecond)
	engine := scanner.New(rec, levels{}, m, cfg.Trading)
	coord := scan.New(engine, cfg.Scan, scan.Options{})
	svc := NewService(Deps{
		Analyzer:    a,
		Market:      m,
		Coordinator: coord,
		Watchlist:   list,
		QuickLimit:  2,
		Breakers: func() []provider.BreakerStatus {
			return []provider.BreakerStatus{{Name: "symbol", State: "closed"}}
		},
		CacheBackend: "in_memory",
	})
	return svc, rec
}

func wait(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.ScanWait(ctx))
}

func TestAnalyzeNormalizesInput(t *testing.T) {
	a := &mockAnalyzer{}
	want := &models.Analysis{Symbol: "RELIANCE-EQ", Score: 64}
	a.On("Analyze", mock.Anything, "RELIANCE-EQ", "day").Return(want, nil).Once()
	a.On("Analyze", mock.Anything, "TCS", "5min").Return(nil, nil).Once()
	svc, _ := newService(t, a, &stubMarket{}, nil)

	got, err := svc.Analyze(context.Background(), "  reliance-eq ", "")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = svc.Analyze(context.Background(), "TCS", "5min")
	require.NoError(t, err)
	assert.Nil(t, got)
	a.AssertExpectations(t)
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	a := &mockAnalyzer{}
	svc, _ := newService(t, a, &stubMarket{}, nil)

	for _, tc := range []struct{ symbol, tf string }{
		{"", "day"},
		{"BAD SYMBOL", "day"},
		{"INFY", "fortnight"},
		{"INFY$", "day"},
	} {
		_, err := svc.Analyze(context.Background(), tc.symbol, tc.tf)
		assert.ErrorIs(t, err, ErrInvalidInput, "%q/%q", tc.symbol, tc.tf)
	}
	a.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarketHealthPublishesUpdate(t *testing.T) {
	m := &stubMarket{health: models.MarketHealth{Health: models.HealthBullish, Score: 90}}
	svc, _ := newService(t, &mockAnalyzer{}, m, nil)

	var got []events.Event
	svc.ScanSubscribe(func(e events.Event) { got = append(got, e) })

	h := svc.MarketHealth(context.Background())
	assert.Equal(t, 90.0, h.Score)
	require.Len(t, got, 1)
	assert.Equal(t, events.MarketUpdate, got[0].Type)
	assert.Equal(t, h, got[0].Data)
}

func TestBullishSectors(t *testing.T) {
	m := &stubMarket{sectors: []models.SectorMove{{Name: "IT", Change: 1.2}}}
	svc, _ := newService(t, &mockAnalyzer{}, m, nil)

	got, err := svc.BullishSectors(context.Background(), 0.5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 0.5, m.minSeen)

	_, err = svc.BullishSectors(context.Background(), math.NaN())
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Len(t, svc.TrendingIndices(context.Background()), 1)
}

func TestScanStartUsesQuickWatchlist(t *testing.T) {
	svc, rec := newService(t, &mockAnalyzer{}, &stubMarket{}, []string{"A-EQ", "B-EQ", "C-EQ"})

	_, err := svc.ScanStart("swing", false, nil)
	require.NoError(t, err)
	wait(t, svc)
	assert.Equal(t, []string{"A-EQ", "B-EQ"}, rec.seen())
	assert.Equal(t, 2, svc.ScanStatus().Total)
}

func TestScanStartFullWatchlist(t *testing.T) {
	svc, rec := newService(t, &mockAnalyzer{}, &stubMarket{}, []string{"A-EQ", "B-EQ", "C-EQ"})

	_, err := svc.ScanStart("SWING", true, nil)
	require.NoError(t, err)
	wait(t, svc)
	assert.Len(t, rec.seen(), 3)
	assert.True(t, svc.IsFresh(models.ModeSwing, true))
	assert.False(t, svc.IsFresh(models.ModeIntraday, true))
}

func TestScanStartExplicitSymbols(t *testing.T) {
	svc, rec := newService(t, &mockAnalyzer{}, &stubMarket{}, nil)

	_, err := svc.ScanStart("intraday", false, []string{" infy-eq", "tcs"})
	require.NoError(t, err)
	wait(t, svc)
	assert.Equal(t, []string{"INFY-EQ", "TCS"}, rec.seen())

	page, p, err := svc.Opportunities("intraday", 1, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Equal(t, 2, p.Total)
}

func TestScanStartRejectsInvalidInput(t *testing.T) {
	svc, _ := newService(t, &mockAnalyzer{}, &stubMarket{}, nil)

	_, err := svc.ScanStart("weekly", false, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.ScanStart("swing", false, []string{"OK", "NOT OK"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, models.StatusIdle, svc.ScanStatus().Status)

	_, _, err = svc.Opportunities("weekly", 1, 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = svc.Opportunities("swing", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHealthReport(t *testing.T) {
	svc, _ := newService(t, &mockAnalyzer{}, &stubMarket{}, nil)
	r := svc.Health()
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, "in_memory", r.CacheBackend)
	assert.Equal(t, models.StatusIdle, r.Scan)
	assert.Len(t, r.Breakers, 1)

	svc.breakers = func() []provider.BreakerStatus {
		return []provider.BreakerStatus{{Name: "market", State: "open"}}
	}
	assert.Equal(t, "degraded", svc.Health().Status)
	assert.Nil(t, svc.Health().Transport)

	svc.transport = func() (httpclient.ClientStats, bool) {
		return httpclient.ClientStats{TotalRequests: 7, FailedRequests: 2}, true
	}
	require.NotNil(t, svc.Health().Transport)
	assert.Equal(t, int64(7), svc.Health().Transport.TotalRequests)
	assert.Equal(t, int64(2), svc.Health().Transport.FailedRequests)
}

func TestHistoryDefaultsToNoop(t *testing.T) {
	svc, _ := newService(t, &mockAnalyzer{}, &stubMarket{}, nil)
	runs, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = svc.History(context.Background(), 1000)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type stubFundamentals struct {
	shareholdings provider.Document
	financials    provider.Document
}

func (s stubFundamentals) Shareholdings(context.Context, string) (provider.Document, error) {
	if s.shareholdings == nil {
		return nil, &provider.Error{Kind: provider.KindSymbolNotFound, Op: "shareholdings"}
	}
	return s.shareholdings, nil
}

func (s stubFundamentals) Financials(context.Context, string) (provider.Document, error) {
	if s.financials == nil {
		return nil, &provider.Error{Kind: provider.KindSymbolNotFound, Op: "financials"}
	}
	return s.financials, nil
}

func TestFundamentals(t *testing.T) {
	doc := provider.Document{"promoter": []byte(`51.2`)}
	svc := NewService(Deps{Fundamentals: stubFundamentals{shareholdings: doc}})

	got, err := svc.Fundamentals(context.Background(), " tcs-eq ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TCS-EQ", got.Symbol)
	assert.Equal(t, doc, got.Shareholdings)
	assert.Nil(t, got.Financials)

	_, err = svc.Fundamentals(context.Background(), "bad symbol!")
	assert.ErrorIs(t, err, ErrInvalidInput)

	empty := NewService(Deps{Fundamentals: stubFundamentals{}})
	got, err = empty.Fundamentals(context.Background(), "TCS-EQ")
	require.NoError(t, err)
	assert.Nil(t, got)
}
