// Package ingest implements the ingestion pipeline.
//
// The pipeline:
//   - Runs a cycle every Interval (default 15s), skipping a tick while a cycle is in flight
//   - Tries sources in priority order; the first non-empty normalized set wins
//   - Falls back to a synthetic continuation of the seed list when every source fails
//   - Swaps the published snapshot and appends history as one step
//   - Notifies observers after each publish
//
// Reads never touch the network; they copy the last published snapshot.
package ingest
