package api

// AssetsResponse from GET /assets
type AssetsResponse struct {
	Data      []APIAsset `json:"data"`
	Timestamp int64      `json:"timestamp"`
}

// APIAsset is one CoinCap asset. Numbers arrive as strings; null decodes to "".
type APIAsset struct {
	ID                string `json:"id"`
	Rank              string `json:"rank"`
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Supply            string `json:"supply"`
	MaxSupply         string `json:"maxSupply"`
	MarketCapUSD      string `json:"marketCapUsd"`
	VolumeUSD24Hr     string `json:"volumeUsd24Hr"`
	PriceUSD          string `json:"priceUsd"`
	ChangePercent24Hr string `json:"changePercent24Hr"`
	VWAP24Hr          string `json:"vwap24Hr"`
	Explorer          string `json:"explorer"`
}

// GetAssetsOptions configures a GetAssets request.
type GetAssetsOptions struct {
	Limit  int
	Offset int
	Search string
	IDs    []string
}
