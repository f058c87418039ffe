package market

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/provider"
)

func sectorsWith(changes ...float64) []provider.Sector {
	out := make([]provider.Sector, len(changes))
	for i, c := range changes {
		out[i] = provider.Sector{ChangePercent: c}
	}
	return out
}

func TestComputeNeutralMarket(t *testing.T) {
	h := Compute(&provider.Breadth{Advancing: 1500, Declining: 500, Total: 2000},
		sectorsWith(0.8, -0.2, 1.1, 0.3, -0.5))

	assert.InDelta(t, 75.0, h.ADRatio, 1e-9)
	assert.InDelta(t, 60.0, h.SectorScore, 1e-9)
	assert.InDelta(t, 69.0, h.Score, 1e-9)
	assert.Equal(t, models.HealthNeutral, h.Health)
	assert.Equal(t, 3, h.PositiveSectors)
	assert.Equal(t, 5, h.TotalSectors)
}

func TestComputeBullishMarket(t *testing.T) {
	h := Compute(&provider.Breadth{Advancing: 1800, Declining: 200, Total: 2000},
		sectorsWith(1, 1, 1, 1, 1, 1, 1, 1, 1, -1))

	assert.InDelta(t, 90.0, h.ADRatio, 1e-9)
	assert.InDelta(t, 90.0, h.SectorScore, 1e-9)
	assert.InDelta(t, 90.0, h.Score, 1e-9)
	assert.Equal(t, models.HealthBullish, h.Health)
}

func TestComputeBoundaries(t *testing.T) {
	t.Run("empty_sectors", func(t *testing.T) {
		h := Compute(&provider.Breadth{Advancing: 2000, Total: 2000}, []provider.Sector{})
		assert.Equal(t, 0.0, h.SectorScore)
		assert.NotEqual(t, models.HealthBullish, h.Health)
	})

	t.Run("no_movement", func(t *testing.T) {
		h := Compute(&provider.Breadth{}, sectorsWith(-1, -2))
		assert.Equal(t, 0.0, h.ADRatio)
		assert.Equal(t, models.HealthBearish, h.Health)
	})

	t.Run("missing_input", func(t *testing.T) {
		assert.Equal(t, models.MarketHealth{Health: models.HealthUnknown}, Compute(nil, sectorsWith(1)))
		assert.Equal(t, models.MarketHealth{Health: models.HealthUnknown},
			Compute(&provider.Breadth{Advancing: 1, Total: 1}, nil))
	})

	t.Run("derived_total", func(t *testing.T) {
		h := Compute(&provider.Breadth{Advancing: 300, Declining: 100, Unchanged: 100}, sectorsWith(1))
		assert.Equal(t, 500, h.Total)
		assert.InDelta(t, 60.0, h.ADRatio, 1e-9)
	})

	t.Run("band_edges", func(t *testing.T) {
		h := Compute(&provider.Breadth{Advancing: 70, Total: 100}, sectorsWith(1, 1, 1, 1, 1, 1, 1, -1, -1, -1))
		assert.Equal(t, 70.0, h.Score)
		assert.Equal(t, models.HealthBullish, h.Health)
		assert.Equal(t, models.HealthNeutral, Band(40))
		assert.Equal(t, models.HealthBearish, Band(39.99))
	})
}

func TestComputeScoreFormula(t *testing.T) {
	for adv := 0; adv <= 100; adv += 7 {
		for pos := 0; pos <= 6; pos++ {
			changes := make([]float64, 6)
			for i := range changes {
				changes[i] = -1
				if i < pos {
					changes[i] = 1
				}
			}
			h := Compute(&provider.Breadth{Advancing: adv, Declining: 100 - adv, Total: 100}, sectorsWith(changes...))
			assert.InDelta(t, 0.6*h.ADRatio+0.4*h.SectorScore, h.Score, 1e-9)
			assert.Equal(t, Band(h.Score), h.Health)
		}
	}
}

type stubSource struct {
	breadth    *provider.Breadth
	breadthErr error
	sectors    []provider.Sector
	sectorsErr error
}

func (s *stubSource) MarketBreadth(context.Context) (*provider.Breadth, error) {
	return s.breadth, s.breadthErr
}

func (s *stubSource) SectorPerformance(context.Context) ([]provider.Sector, error) {
	return s.sectors, s.sectorsErr
}

func TestAnalyzerHealth(t *testing.T) {
	a := New(&stubSource{
		breadth: &provider.Breadth{Advancing: 1800, Declining: 200, Total: 2000},
		sectors: sectorsWith(1, 1, 1, 1, 1, 1, 1, 1, 1, -1),
	})
	assert.Equal(t, models.HealthBullish, a.Health(context.Background()).Health)

	down := New(&stubSource{breadthErr: errors.New("down"), sectors: sectorsWith(1)})
	assert.Equal(t, models.HealthUnknown, down.Health(context.Background()).Health)
}

func TestBullishSectors(t *testing.T) {
	a := New(&stubSource{sectors: []provider.Sector{
		{Name: "Bank", ChangePercent: 0.4},
		{Name: "IT", ChangePercent: 1.6, Advancing: 9, Total: 10},
		{Name: "Auto", ChangePercent: 0.5},
		{Name: "Pharma", ChangePercent: 2.1},
	}})

	got := a.BullishSectors(context.Background(), DefaultMinSectorChange)
	require.Len(t, got, 3)
	assert.Equal(t, "Pharma", got[0].Name)
	assert.Equal(t, "IT", got[1].Name)
	assert.Equal(t, 9, got[1].Advancing)
	assert.Equal(t, "Auto", got[2].Name)

	empty := New(&stubSource{sectorsErr: errors.New("down")})
	assert.Empty(t, empty.BullishSectors(context.Background(), 0))
}

func TestTrendingIndices(t *testing.T) {
	a := New(&stubSource{breadth: &provider.Breadth{Indices: []provider.IndexQuote{
		{Index: "NIFTY 50", Momentum: 1.2, ChangePercent: 0.8, Price: 22000},
		{Index: "NIFTY BANK", Momentum: 2.5, ChangePercent: 1.4, Price: 47000},
		{Index: "NIFTY IT", Momentum: -0.3},
	}}})

	got := a.TrendingIndices(context.Background())
	require.Len(t, got, 3)
	assert.Equal(t, "NIFTY BANK", got[0].Index)
	assert.Equal(t, 1.4, got[0].ChangePercent)
	assert.Equal(t, "NIFTY IT", got[2].Index)

	assert.Empty(t, New(&stubSource{breadthErr: errors.New("x")}).TrendingIndices(context.Background()))
}
