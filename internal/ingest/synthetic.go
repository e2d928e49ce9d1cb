package ingest

import (
	"strings"

	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/source"
)

// volumeJitter bounds the perturbation of the synthetic volume signal.
const volumeJitter = 0.05

// synthesize continues the seed universe from the previous snapshot.
// Every price moves by at most ±drift relative to its previous value.
func (p *Pipeline) synthesize(prev map[string]model.Asset, ts int64) ([]model.Asset, error) {
	if len(p.cfg.Seeds) == 0 {
		return nil, ErrNoSeedData
	}

	d := p.cfg.Drift
	w := p.cfg.BlendWeight

	bySymbol := bestBySymbol(prev)

	assets := make([]model.Asset, 0, len(p.cfg.Seeds))
	for _, seed := range p.cfg.Seeds {
		id := source.AssetID(seed.Symbol, seed.Quote)

		basePrice := seed.PriceUSD
		baseVolume := seed.VolumeUSD24Hr
		baseChange := seed.ChangePercent24Hr
		last, ok := prev[id]
		if !ok || !last.HasValidPrice() {
			// The last live source may have quoted the asset differently,
			// e.g. btc-usd from CoinCap against a btc-usdt seed.
			last, ok = bySymbol[strings.ToUpper(seed.Symbol)]
		}
		if ok && last.HasValidPrice() {
			basePrice = last.PriceUSD
			baseVolume = last.VolumeUSD24Hr
			baseChange = last.ChangePercent24Hr
		}

		drift := p.uniform(-d, d)
		price := basePrice * (1 + drift)

		volumeSignal := baseVolume * (1 + p.uniform(-volumeJitter, volumeJitter))
		changeSignal := baseChange + drift*100

		a := model.Asset{
			ID:                id,
			Symbol:            seed.Symbol,
			Quote:             seed.Quote,
			Name:              seed.Name,
			PriceUSD:          price,
			VolumeUSD24Hr:     w*baseVolume + (1-w)*volumeSignal,
			ChangePercent24Hr: w*baseChange + (1-w)*changeSignal,
			LastUpdated:       ts,
		}
		if seed.Supply > 0 {
			a.Supply = model.Float(seed.Supply)
			a.MarketCapUSD = model.Float(price * seed.Supply)
		}
		if seed.MaxSupply > 0 {
			a.MaxSupply = model.Float(seed.MaxSupply)
		}
		assets = append(assets, a)
	}

	return Normalize(assets, p.cfg.QuotePreference), nil
}

// bestBySymbol indexes prev by base symbol, keeping the best-ranked asset
// with a valid price for each.
func bestBySymbol(prev map[string]model.Asset) map[string]model.Asset {
	out := make(map[string]model.Asset, len(prev))
	for _, a := range prev {
		if !a.HasValidPrice() {
			continue
		}
		sym := strings.ToUpper(a.Symbol)
		if cur, ok := out[sym]; ok && cur.Rank <= a.Rank {
			continue
		}
		out[sym] = a
	}
	return out
}

// uniform draws from [lo, hi).
func (p *Pipeline) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*p.rand()
}
