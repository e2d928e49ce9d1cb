package source

import (
	"context"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketfeed/internal/cache"
	"github.com/rickgao/marketfeed/internal/model"
)

const (
	binanceExchangeInfoKey = "binance:exchangeInfo"
	binanceTickersKey      = "binance:tickers"
	binanceStatusTrading   = "TRADING"
)

// BinanceConfig configures the Binance spot adapter.
type BinanceConfig struct {
	BaseURL         string
	APIKey          string
	SecretKey       string
	QuotePreference []string
	SymbolTTL       time.Duration
	TickerTTL       time.Duration
}

// Binance reads the spot universe from exchange info and 24h ticker statistics.
type Binance struct {
	client *binance.Client
	cache  *cache.Cache
	cfg    BinanceConfig
	quotes []string
	logger *zap.Logger
}

type symbolMeta struct {
	base  string
	quote string
}

// NewBinance creates the adapter. Both upstream calls go through c.
func NewBinance(cfg BinanceConfig, c *cache.Cache, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &Binance{
		client: client,
		cache:  c,
		cfg:    cfg,
		quotes: normalizeQuotes(cfg.QuotePreference),
		logger: logger.Named("binance"),
	}
}

// Name returns the source tag.
func (b *Binance) Name() string { return model.SourceBinance }

// Fetch loads symbol metadata and ticker stats concurrently and joins them.
func (b *Binance) Fetch(ctx context.Context) ([]model.Asset, error) {
	var (
		symbols map[string]symbolMeta
		tickers []*binance.PriceChangeStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		symbols, err = cache.Fetch(b.cache, binanceExchangeInfoKey, b.cfg.SymbolTTL, func() (map[string]symbolMeta, error) {
			return b.loadSymbols(gctx)
		})
		return err
	})
	g.Go(func() error {
		var err error
		tickers, err = cache.Fetch(b.cache, binanceTickersKey, b.cfg.TickerTTL, func() ([]*binance.PriceChangeStats, error) {
			stats, err := b.client.NewListPriceChangeStatsService().Do(gctx)
			if err != nil {
				return nil, errors.Wrap(err, "binance 24h tickers")
			}
			return stats, nil
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	assets := b.transform(symbols, tickers)
	b.logger.Debug("fetched",
		zap.Int("symbols", len(symbols)),
		zap.Int("tickers", len(tickers)),
		zap.Int("assets", len(assets)),
	)
	if len(assets) == 0 {
		return nil, ErrEmptySource
	}
	return assets, nil
}

func (b *Binance) loadSymbols(ctx context.Context) (map[string]symbolMeta, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "binance exchange info")
	}

	out := make(map[string]symbolMeta, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != binanceStatusTrading {
			continue
		}
		if !containsQuote(b.quotes, s.QuoteAsset) {
			continue
		}
		out[s.Symbol] = symbolMeta{base: s.BaseAsset, quote: s.QuoteAsset}
	}
	return out, nil
}

func (b *Binance) transform(symbols map[string]symbolMeta, tickers []*binance.PriceChangeStats) []model.Asset {
	assets := make([]model.Asset, 0, len(symbols))
	for _, t := range tickers {
		if t == nil {
			continue
		}
		meta, ok := symbols[t.Symbol]
		if !ok {
			continue
		}
		price, ok := ParseNumber(t.LastPrice)
		if !ok {
			continue
		}

		assets = append(assets, model.Asset{
			ID:                AssetID(meta.base, meta.quote),
			Symbol:            meta.base,
			Quote:             meta.quote,
			Name:              meta.base,
			PriceUSD:          price,
			ChangePercent24Hr: ParseOr(t.PriceChangePercent, 0),
			VolumeUSD24Hr:     ParseOr(t.QuoteVolume, 0),
			VWAP24Hr:          ParseOptional(t.WeightedAvgPrice),
			LastUpdated:       t.CloseTime,
		})
	}
	return assets
}
