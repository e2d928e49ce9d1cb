// Package api provides the CoinCap REST client.
//
// Endpoints:
//   - Production: https://api.coincap.io/v2
//   - Paid tier: https://rest.coincap.io/v3 (requires an API key)
//
// Every numeric field in a CoinCap payload is a decimal string or null.
// Conversion into model values happens in the source adapter, not here.
package api
