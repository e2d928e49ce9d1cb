// Package cache implements the request cache used in front of provider calls.
//
// The cache:
//   - Stores successful results with a per-call time-to-live
//   - Never stores failed results
//   - Coalesces concurrent misses for the same key into one in-flight call
package cache
