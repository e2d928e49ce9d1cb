// Package archive appends published cycles to PostgreSQL.
//
// The archive is write-only: rows are batch-copied into asset_samples and
// never read back by this process. A failed flush drops its batch.
package archive
