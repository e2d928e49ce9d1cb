package ingest

// Seed is one asset of the synthetic fallback universe.
type Seed struct {
	Symbol            string
	Quote             string
	Name              string
	PriceUSD          float64
	VolumeUSD24Hr     float64
	ChangePercent24Hr float64
	Supply            float64 // 0 when unknown
	MaxSupply         float64 // 0 when uncapped
}

// DefaultSeeds is a static snapshot of large-cap spot markets.
func DefaultSeeds() []Seed {
	return []Seed{
		{Symbol: "BTC", Quote: "USDT", Name: "Bitcoin", PriceUSD: 64000, VolumeUSD24Hr: 25e9, ChangePercent24Hr: 1.2, Supply: 19.7e6, MaxSupply: 21e6},
		{Symbol: "ETH", Quote: "USDT", Name: "Ethereum", PriceUSD: 3200, VolumeUSD24Hr: 12e9, ChangePercent24Hr: 0.8, Supply: 120.2e6},
		{Symbol: "BNB", Quote: "USDT", Name: "BNB", PriceUSD: 580, VolumeUSD24Hr: 1.5e9, ChangePercent24Hr: -0.4, Supply: 146e6, MaxSupply: 200e6},
		{Symbol: "SOL", Quote: "USDT", Name: "Solana", PriceUSD: 150, VolumeUSD24Hr: 3e9, ChangePercent24Hr: 2.5, Supply: 465e6},
		{Symbol: "XRP", Quote: "USDT", Name: "XRP", PriceUSD: 0.55, VolumeUSD24Hr: 1.2e9, ChangePercent24Hr: -1.1, Supply: 55e9, MaxSupply: 100e9},
		{Symbol: "DOGE", Quote: "USDT", Name: "Dogecoin", PriceUSD: 0.14, VolumeUSD24Hr: 900e6, ChangePercent24Hr: 3.4, Supply: 145e9},
		{Symbol: "ADA", Quote: "USDT", Name: "Cardano", PriceUSD: 0.45, VolumeUSD24Hr: 400e6, ChangePercent24Hr: -0.7, Supply: 35.5e9, MaxSupply: 45e9},
		{Symbol: "TRX", Quote: "USDT", Name: "TRON", PriceUSD: 0.12, VolumeUSD24Hr: 350e6, ChangePercent24Hr: 0.3, Supply: 87e9},
		{Symbol: "AVAX", Quote: "USDT", Name: "Avalanche", PriceUSD: 28, VolumeUSD24Hr: 450e6, ChangePercent24Hr: 1.9, Supply: 395e6, MaxSupply: 720e6},
		{Symbol: "LINK", Quote: "USDT", Name: "Chainlink", PriceUSD: 14, VolumeUSD24Hr: 380e6, ChangePercent24Hr: -2.2, Supply: 608e6, MaxSupply: 1e9},
		{Symbol: "DOT", Quote: "USDT", Name: "Polkadot", PriceUSD: 6.5, VolumeUSD24Hr: 200e6, ChangePercent24Hr: 0.5, Supply: 1.45e9},
		{Symbol: "LTC", Quote: "USDT", Name: "Litecoin", PriceUSD: 72, VolumeUSD24Hr: 350e6, ChangePercent24Hr: -0.2, Supply: 75e6, MaxSupply: 84e6},
	}
}
