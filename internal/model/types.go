package model

import "math"

// Source tags for published snapshots.
const (
	SourceBinance   = "binance"
	SourceBybit     = "bybit"
	SourceCoinCap   = "coincap"
	SourceSynthetic = "synthetic"
)

// Asset is a tracked tradable asset with normalized market fields.
type Asset struct {
	ID                string   `json:"id"`
	Rank              int      `json:"rank"`
	Symbol            string   `json:"symbol"` // Base asset, e.g. "BTC"
	Quote             string   `json:"quote"`  // Quote asset, e.g. "USDT"
	Name              string   `json:"name"`
	PriceUSD          float64  `json:"priceUsd"`
	ChangePercent24Hr float64  `json:"changePercent24Hr"` // 0 when the provider omits it
	VolumeUSD24Hr     float64  `json:"volumeUsd24Hr"`     // 0 when omitted, so such assets rank after any with a size
	MarketCapUSD      *float64 `json:"marketCapUsd"`
	Supply            *float64 `json:"supply"`
	MaxSupply         *float64 `json:"maxSupply"`
	VWAP24Hr          *float64 `json:"vwap24Hr"`
	Explorer          string   `json:"explorer,omitempty"`
	LastUpdated       int64    `json:"lastUpdated"`
}

// HasValidPrice reports whether the asset may appear in a published set.
func (a Asset) HasValidPrice() bool {
	return IsFinite(a.PriceUSD) && a.PriceUSD > 0
}

// SizeMetric is the value used to order assets: market cap when known, else 24h volume.
func (a Asset) SizeMetric() float64 {
	if a.MarketCapUSD != nil && IsFinite(*a.MarketCapUSD) && *a.MarketCapUSD > 0 {
		return *a.MarketCapUSD
	}
	if IsFinite(a.VolumeUSD24Hr) {
		return a.VolumeUSD24Hr
	}
	return 0
}

// Clone returns a deep copy so pointer fields are not shared between snapshots.
func (a Asset) Clone() Asset {
	c := a
	c.MarketCapUSD = cloneFloat(a.MarketCapUSD)
	c.Supply = cloneFloat(a.Supply)
	c.MaxSupply = cloneFloat(a.MaxSupply)
	c.VWAP24Hr = cloneFloat(a.VWAP24Hr)
	return c
}

// HistorySample is one point in an asset's rolling history.
type HistorySample struct {
	Timestamp         int64   `json:"timestamp"`
	PriceUSD          float64 `json:"priceUsd"`
	VolumeUSD24Hr     float64 `json:"volumeUsd24Hr"`
	ChangePercent24Hr float64 `json:"changePercent24Hr"`
}

// IsFinite reports whether every numeric field is a finite number.
func (s HistorySample) IsFinite() bool {
	return IsFinite(s.PriceUSD) && IsFinite(s.VolumeUSD24Hr) && IsFinite(s.ChangePercent24Hr)
}

// SampleOf builds a history sample from an asset at the given timestamp.
func SampleOf(a Asset, ts int64) HistorySample {
	return HistorySample{
		Timestamp:         ts,
		PriceUSD:          a.PriceUSD,
		VolumeUSD24Hr:     a.VolumeUSD24Hr,
		ChangePercent24Hr: a.ChangePercent24Hr,
	}
}

// Snapshot is one published entity set. It is never mutated after publication.
type Snapshot struct {
	Assets       []Asset `json:"assets"`
	Source       string  `json:"source"`
	UsedFallback bool    `json:"usedFallback"`
	UpdatedAt    int64   `json:"lastUpdated"`
}

// Copy returns a snapshot whose asset slice is independent of s.
func (s *Snapshot) Copy() Snapshot {
	if s == nil {
		return Snapshot{Assets: []Asset{}}
	}
	out := *s
	out.Assets = make([]Asset, len(s.Assets))
	for i, a := range s.Assets {
		out.Assets[i] = a.Clone()
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
