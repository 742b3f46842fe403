// Package api is the composition root and external facade of the optimiser.
//
// Service wires the store, backends, optimisation engine, backup manager,
// batch coordinator, queue worker and catalogue together once and exposes the
// operations hosts call: backend status, single-item optimisation, batch
// paging with pause/resume, aggregate statistics, backup and restore, and
// remote connection diagnostics.
//
// # Key Types
//
// RecordView, ItemView, StatsView, BackendView, QueueEntryView, LogView:
// transport representations with snake_case JSON tags, rendered by the CLI
// with --json.
//
// # Design Notes
//
// Re-optimisation is explicit. ProcessOne refuses items whose record is
// already optimised; Reoptimize clears the record first. Timestamps use
// RFC3339 with milliseconds.
package api
