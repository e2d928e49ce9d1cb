// Package model defines shared data types used across the market feed hub.
//
// Conventions:
//   - Prices, volumes and market caps: float64 in USD (or the quote asset for exchange pairs)
//   - Optional provider fields: *float64, nil when the provider sent no usable value
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Asset IDs: lowercase, "btc-usdt" for exchange pairs, provider slug otherwise
package model
