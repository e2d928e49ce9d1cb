package source

import (
	"context"
	"sort"
	"strings"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rickgao/marketfeed/internal/cache"
	"github.com/rickgao/marketfeed/internal/model"
)

const bybitTickersKey = "bybit:spotTickers"

// BybitConfig configures the Bybit spot adapter.
type BybitConfig struct {
	BaseURL         string
	QuotePreference []string
	TickerTTL       time.Duration
}

// Bybit reads V5 spot tickers.
type Bybit struct {
	client *bybit.Client
	cache  *cache.Cache
	cfg    BybitConfig
	quotes []string // longest suffix first
	logger *zap.Logger
}

// NewBybit creates the adapter.
func NewBybit(cfg BybitConfig, c *cache.Cache, logger *zap.Logger) *Bybit {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := bybit.NewClient()
	if cfg.BaseURL != "" {
		client = client.WithBaseURL(cfg.BaseURL)
	}

	quotes := normalizeQuotes(cfg.QuotePreference)
	sort.SliceStable(quotes, func(i, j int) bool { return len(quotes[i]) > len(quotes[j]) })

	return &Bybit{
		client: client,
		cache:  c,
		cfg:    cfg,
		quotes: quotes,
		logger: logger.Named("bybit"),
	}
}

// Name returns the source tag.
func (b *Bybit) Name() string { return model.SourceBybit }

// Fetch loads spot tickers and converts those quoted in a preferred asset.
func (b *Bybit) Fetch(ctx context.Context) ([]model.Asset, error) {
	items, err := cache.Fetch(b.cache, bybitTickersKey, b.cfg.TickerTTL, func() ([]bybit.V5GetTickersSpotItem, error) {
		return b.loadTickers(ctx)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	assets := make([]model.Asset, 0, len(items))
	for _, item := range items {
		base, quote, ok := b.splitSymbol(string(item.Symbol))
		if !ok {
			continue
		}
		price, ok := ParseNumber(item.LastPrice)
		if !ok {
			continue
		}

		assets = append(assets, model.Asset{
			ID:                AssetID(base, quote),
			Symbol:            base,
			Quote:             quote,
			Name:              base,
			PriceUSD:          price,
			ChangePercent24Hr: ParseOr(item.Price24HPcnt, 0) * 100,
			VolumeUSD24Hr:     ParseOr(item.Turnover24H, 0),
			LastUpdated:       now,
		})
	}

	b.logger.Debug("fetched", zap.Int("tickers", len(items)), zap.Int("assets", len(assets)))
	if len(assets) == 0 {
		return nil, ErrEmptySource
	}
	return assets, nil
}

func (b *Bybit) loadTickers(ctx context.Context) ([]bybit.V5GetTickersSpotItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bybit spot tickers")
	}
	if resp.Result.Spot == nil {
		return nil, errors.New("bybit spot tickers: missing spot result")
	}
	return resp.Result.Spot.List, nil
}

// splitSymbol splits "BTCUSDT" into ("BTC", "USDT") using the preferred quotes.
func (b *Bybit) splitSymbol(symbol string) (string, string, bool) {
	symbol = strings.ToUpper(symbol)
	for _, q := range b.quotes {
		if len(symbol) > len(q) && strings.HasSuffix(symbol, q) {
			return strings.TrimSuffix(symbol, q), q, true
		}
	}
	return "", "", false
}
