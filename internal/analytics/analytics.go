// Package analytics derives market-wide read models from a published snapshot.
package analytics

import (
	"cmp"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketfeed/internal/model"
)

// Defaults used when a limit <= 0 is passed.
const (
	DefaultMoversLimit    = 5
	DefaultDominanceLimit = 6
)

// Summary aggregates the current asset set.
type Summary struct {
	TotalMarketCapUSD        float64 `json:"totalMarketCapUsd"`
	TotalVolumeUSD24Hr       float64 `json:"totalVolumeUsd24Hr"`
	AverageChangePercent24Hr float64 `json:"averageChangePercent24Hr"`
	AssetsTracked            int     `json:"assetsTracked"`
	PositiveChangeCount      int     `json:"positiveChangeCount"`
	NegativeChangeCount      int     `json:"negativeChangeCount"`
	LastUpdated              int64   `json:"lastUpdated"`
	DataSource               string  `json:"dataSource"`
	UsedFallback             bool    `json:"usedFallback"`
}

// Movers holds the strongest gainers and losers, best first in each list.
type Movers struct {
	Gainers []model.Asset `json:"gainers"`
	Losers  []model.Asset `json:"losers"`
}

// Bucket is one band of the 24h change histogram. Min is inclusive, Max exclusive.
type Bucket struct {
	Label string  `json:"label"`
	Min   float64 `json:"-"`
	Max   float64 `json:"-"`
	Count int     `json:"count"`
}

// Share is one asset's part of the combined size of the top assets.
type Share struct {
	AssetID          string  `json:"assetId"`
	Symbol           string  `json:"symbol"`
	DominancePercent float64 `json:"dominancePercent"`
}

// VelocityStats is the mean absolute price move between the last two samples.
type VelocityStats struct {
	AverageVelocityPercent float64 `json:"averageVelocityPercent"`
	SampleSize             int     `json:"sampleSize"`
}

// round rounds v half away from zero; non-finite values become 0.
func round(v float64, places int32) float64 {
	return dec(v).Round(places).InexactFloat64()
}

// dec converts v, treating non-finite values as 0.
func dec(v float64) decimal.Decimal {
	if !model.IsFinite(v) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// Summarize computes totals over snap. Assets without a market cap contribute 0 to it.
func Summarize(snap model.Snapshot) Summary {
	var capSum, volSum, changeSum decimal.Decimal
	positive := 0
	for _, a := range snap.Assets {
		if a.MarketCapUSD != nil {
			capSum = capSum.Add(dec(*a.MarketCapUSD))
		}
		volSum = volSum.Add(dec(a.VolumeUSD24Hr))
		changeSum = changeSum.Add(dec(a.ChangePercent24Hr))
		if a.ChangePercent24Hr >= 0 {
			positive++
		}
	}

	n := len(snap.Assets)
	avg := decimal.Zero
	if n > 0 {
		avg = changeSum.Div(decimal.NewFromInt(int64(n)))
	}

	return Summary{
		TotalMarketCapUSD:        capSum.Round(0).InexactFloat64(),
		TotalVolumeUSD24Hr:       volSum.Round(0).InexactFloat64(),
		AverageChangePercent24Hr: avg.Round(2).InexactFloat64(),
		AssetsTracked:            n,
		PositiveChangeCount:      positive,
		NegativeChangeCount:      n - positive,
		LastUpdated:              snap.UpdatedAt,
		DataSource:               snap.Source,
		UsedFallback:             snap.UsedFallback,
	}
}

// TopMovers returns up to limit gainers and limit losers by 24h change.
// With fewer than 2*limit assets the two lists overlap.
func TopMovers(assets []model.Asset, limit int) Movers {
	if limit <= 0 {
		limit = DefaultMoversLimit
	}

	sorted := slices.Clone(assets)
	slices.SortStableFunc(sorted, func(a, b model.Asset) int {
		return cmp.Compare(b.ChangePercent24Hr, a.ChangePercent24Hr)
	})

	n := min(limit, len(sorted))
	gainers := slices.Clone(sorted[:n])
	losers := slices.Clone(sorted[len(sorted)-n:])
	slices.Reverse(losers)

	return Movers{Gainers: gainers, Losers: losers}
}

// ChangeDistribution counts assets per 24h change band.
func ChangeDistribution(assets []model.Asset) []Bucket {
	buckets := []Bucket{
		{Label: "< -10%", Min: math.Inf(-1), Max: -10},
		{Label: "-10% to -5%", Min: -10, Max: -5},
		{Label: "-5% to 0%", Min: -5, Max: 0},
		{Label: "0% to 5%", Min: 0, Max: 5},
		{Label: "5% to 10%", Min: 5, Max: 10},
		{Label: "> 10%", Min: 10, Max: math.Inf(1)},
	}
	for _, a := range assets {
		for i := range buckets {
			if a.ChangePercent24Hr >= buckets[i].Min && a.ChangePercent24Hr < buckets[i].Max {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// Dominance returns each of the first limit assets' share of their combined
// size metric (market cap, or volume when no cap is known). Assets are taken
// in rank order. The result is empty when the combined size is zero.
func Dominance(assets []model.Asset, limit int) []Share {
	if limit <= 0 {
		limit = DefaultDominanceLimit
	}
	top := assets[:min(limit, len(assets))]

	total := 0.0
	for _, a := range top {
		total += a.SizeMetric()
	}
	if total <= 0 || !model.IsFinite(total) {
		return []Share{}
	}

	out := make([]Share, 0, len(top))
	for _, a := range top {
		out = append(out, Share{
			AssetID:          a.ID,
			Symbol:           a.Symbol,
			DominancePercent: round(a.SizeMetric()/total*100, 2),
		})
	}
	return out
}

// HistoryFunc returns the samples of one asset, oldest first.
type HistoryFunc func(id string) []model.HistorySample

// Velocity averages |Δprice / previous price| over assets with at least two samples.
func Velocity(assets []model.Asset, history HistoryFunc) VelocityStats {
	sum := 0.0
	n := 0
	for _, a := range assets {
		samples := history(a.ID)
		if len(samples) < 2 {
			continue
		}
		latest := samples[len(samples)-1]
		previous := samples[len(samples)-2]
		base := previous.PriceUSD
		if base == 0 {
			base = 1
		}
		sum += math.Abs((latest.PriceUSD - previous.PriceUSD) / base)
		n++
	}

	if n == 0 {
		return VelocityStats{}
	}
	return VelocityStats{
		AverageVelocityPercent: round(sum/float64(n)*100, 2),
		SampleSize:             n,
	}
}
