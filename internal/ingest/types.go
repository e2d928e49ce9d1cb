package ingest

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rickgao/marketfeed/internal/model"
)

// ErrNoSeedData is returned by the synthetic path when no seeds are configured.
var ErrNoSeedData = errors.New("no seed data for synthetic fallback")

// Config holds pipeline configuration.
type Config struct {
	Interval        time.Duration // Cycle period (default: 15s)
	CycleTimeout    time.Duration // Upper bound for one cycle's source calls (default: 30s)
	Drift           float64       // Synthetic price drift bound, fraction (default: 0.015)
	BlendWeight     float64       // Weight of the previous value when blending (default: 0.6)
	QuotePreference []string      // Preferred quote assets, best first
	Seeds           []Seed        // Synthetic fallback universe
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        15 * time.Second,
		CycleTimeout:    30 * time.Second,
		Drift:           0.015,
		BlendWeight:     0.6,
		QuotePreference: []string{"USDT", "BUSD", "USDC", "USD"},
		Seeds:           DefaultSeeds(),
	}
}

// AssetsUpdated is delivered after every publish.
type AssetsUpdated struct {
	Assets       []model.Asset
	Source       string
	UsedFallback bool
	UpdatedAt    int64
}

// Fallback is delivered when a cycle had to synthesize its result.
type Fallback struct {
	Message   string // last source error
	Source    string
	UpdatedAt int64
}

// Observer receives pipeline events. Implementations must not block.
type Observer interface {
	OnAssetsUpdated(AssetsUpdated)
	OnFallback(Fallback)
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Cycles      int64  `json:"cycles"`
	Skipped     int64  `json:"skipped"`
	Fallbacks   int64  `json:"fallbacks"`
	Failures    int64  `json:"failures"`
	Source      string `json:"source"`
	Assets      int    `json:"assets"`
	LastUpdated int64  `json:"lastUpdated"`
}
