package source

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/cache"
	"github.com/rickgao/marketfeed/internal/model"
)

const (
	coinCapAssetsKey = "coincap:assets"
	coinCapQuote     = "USD"
)

// CoinCapConfig configures the CoinCap adapter.
type CoinCapConfig struct {
	PageSize  int
	MaxAssets int
	TTL       time.Duration
}

// CoinCap reads the paginated /assets listing.
type CoinCap struct {
	client *api.Client
	cache  *cache.Cache
	cfg    CoinCapConfig
	logger *zap.Logger
}

// NewCoinCap creates the adapter over an existing REST client.
func NewCoinCap(client *api.Client, cfg CoinCapConfig, c *cache.Cache, logger *zap.Logger) *CoinCap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinCap{
		client: client,
		cache:  c,
		cfg:    cfg,
		logger: logger.Named("coincap"),
	}
}

// Name returns the source tag.
func (c *CoinCap) Name() string { return model.SourceCoinCap }

// Fetch pages through /assets and converts every asset with a usable price.
func (c *CoinCap) Fetch(ctx context.Context) ([]model.Asset, error) {
	raw, err := cache.Fetch(c.cache, coinCapAssetsKey, c.cfg.TTL, func() ([]api.APIAsset, error) {
		return c.client.GetAllAssets(ctx, c.cfg.PageSize, c.cfg.MaxAssets)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	assets := make([]model.Asset, 0, len(raw))
	for i := range raw {
		a, ok := convertCoinCap(&raw[i], now)
		if ok {
			assets = append(assets, a)
		}
	}

	c.logger.Debug("fetched", zap.Int("raw", len(raw)), zap.Int("assets", len(assets)))
	if len(assets) == 0 {
		return nil, ErrEmptySource
	}
	return assets, nil
}

func convertCoinCap(a *api.APIAsset, ts int64) (model.Asset, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
	if symbol == "" {
		return model.Asset{}, false
	}
	price, ok := ParseNumber(a.PriceUSD)
	if !ok {
		return model.Asset{}, false
	}

	name := a.Name
	if name == "" {
		name = symbol
	}

	return model.Asset{
		ID:                AssetID(symbol, coinCapQuote),
		Symbol:            symbol,
		Quote:             coinCapQuote,
		Name:              name,
		PriceUSD:          price,
		ChangePercent24Hr: ParseOr(a.ChangePercent24Hr, 0),
		VolumeUSD24Hr:     ParseOr(a.VolumeUSD24Hr, 0),
		MarketCapUSD:      ParseOptional(a.MarketCapUSD),
		Supply:            ParseOptional(a.Supply),
		MaxSupply:         ParseOptional(a.MaxSupply),
		VWAP24Hr:          ParseOptional(a.VWAP24Hr),
		Explorer:          a.Explorer,
		LastUpdated:       ts,
	}, true
}
