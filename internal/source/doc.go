// Package source defines the provider contract used by the ingest pipeline
// and one adapter per upstream provider.
//
// Adapters convert a provider payload into model.Asset values and nothing
// more. Price filtering, deduplication, ordering and ranking are applied
// uniformly by the pipeline. Provider-specific field handling stays inside
// the adapter that owns it.
//
// Providers:
//   - Binance spot: exchange info + 24h ticker statistics
//   - Bybit V5 spot tickers
//   - CoinCap /assets (paginated)
package source
