// Package market derives a market-health summary from breadth and sector data.
package market

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/models"
	"github.com/sawpanic/nsescan/internal/provider"
)

// Health bands
const (
	BullishThreshold = 70.0
	NeutralThreshold = 40.0

	// DefaultMinSectorChange is the default cut-off for BullishSectors
	DefaultMinSectorChange = 0.5
)

// DataSource is the subset of the provider client the market analyzer needs
type DataSource interface {
	MarketBreadth(ctx context.Context) (*provider.Breadth, error)
	SectorPerformance(ctx context.Context) ([]provider.Sector, error)
}

// Compute is the pure health calculation. A nil breadth or nil sector slice
// means the input was unavailable and yields an unknown health; an empty
// non-nil sector slice scores zero.
func Compute(b *provider.Breadth, sectors []provider.Sector) models.MarketHealth {
	if b == nil || sectors == nil {
		return models.MarketHealth{Health: models.HealthUnknown}
	}

	total := b.Total
	if total == 0 && b.Advancing+b.Declining > 0 {
		total = b.Advancing + b.Declining + b.Unchanged
	}

	adRatio := 0.0
	if total > 0 {
		adRatio = 100 * float64(b.Advancing) / float64(total)
	}

	positive := 0
	for _, s := range sectors {
		if s.ChangePercent > 0 {
			positive++
		}
	}
	sectorScore := 0.0
	if len(sectors) > 0 {
		sectorScore = 100 * float64(positive) / float64(len(sectors))
	}

	// weights applied as integers keep band edges exact (70/70 -> 70)
	score := (60*adRatio + 40*sectorScore) / 100

	return models.MarketHealth{
		Health:          Band(score),
		Score:           score,
		ADRatio:         adRatio,
		Advancing:       b.Advancing,
		Declining:       b.Declining,
		Total:           total,
		SectorScore:     sectorScore,
		PositiveSectors: positive,
		TotalSectors:    len(sectors),
	}
}

// Band maps a market score to its health label
func Band(score float64) string {
	switch {
	case score >= BullishThreshold:
		return models.HealthBullish
	case score >= NeutralThreshold:
		return models.HealthNeutral
	}
	return models.HealthBearish
}

// Analyzer fetches market inputs and summarises them
type Analyzer struct {
	src DataSource
}

// New creates a market analyzer
func New(src DataSource) *Analyzer {
	return &Analyzer{src: src}
}

// Health fetches breadth and sectors and computes the summary
func (a *Analyzer) Health(ctx context.Context) models.MarketHealth {
	breadth, err := a.src.MarketBreadth(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Market breadth unavailable")
		breadth = nil
	}
	sectors, err := a.src.SectorPerformance(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Sector performance unavailable")
		sectors = nil
	} else if sectors == nil {
		sectors = []provider.Sector{}
	}
	return Compute(breadth, sectors)
}

// BullishSectors lists sectors up at least minChange percent, strongest first
func (a *Analyzer) BullishSectors(ctx context.Context, minChange float64) []models.SectorMove {
	sectors, err := a.src.SectorPerformance(ctx)
	if err != nil {
		return []models.SectorMove{}
	}

	out := make([]models.SectorMove, 0, len(sectors))
	for _, s := range sectors {
		if s.ChangePercent < minChange {
			continue
		}
		out = append(out, models.SectorMove{
			Name:      s.Name,
			Change:    s.ChangePercent,
			Advancing: s.Advancing,
			Total:     s.Total,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Change > out[j].Change })
	return out
}

// TrendingIndices lists indices carried in the breadth payload by momentum
func (a *Analyzer) TrendingIndices(ctx context.Context) []models.IndexTrend {
	breadth, err := a.src.MarketBreadth(ctx)
	if err != nil {
		return []models.IndexTrend{}
	}

	out := make([]models.IndexTrend, 0, len(breadth.Indices))
	for _, idx := range breadth.Indices {
		out = append(out, models.IndexTrend{
			Index:         idx.Index,
			Momentum:      idx.Momentum,
			ChangePercent: idx.ChangePercent,
			Price:         idx.Price,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Momentum > out[j].Momentum })
	return out
}
