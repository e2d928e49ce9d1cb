// Package history keeps a bounded, per-asset window of price samples.
//
// Each asset id owns a fixed-capacity ring. Appending to a full ring evicts
// the oldest sample. Samples with non-finite fields are dropped silently.
package history
