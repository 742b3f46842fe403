// Package store persists the optimisation pipeline's state in SQLite.
//
// It owns the item catalogue and derived-size variants, per-item optimisation
// records, backup bookkeeping, the append-only optimisation log, the
// background queue and the single batch cursor row. Writes retry on
// SQLITE_BUSY with exponential backoff so the CLI and daemon can share the
// database file.
//
// Timestamps are stored as fixed-width UTC strings so lexical ordering in SQL
// matches chronological ordering.
package store
