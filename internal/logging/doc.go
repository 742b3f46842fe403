// Package logging assembles structured slog loggers and formatting helpers used
// across mio.
//
// It owns the console/JSON handlers, fans console output and the JSON log file
// out through slog-multi, and exposes context-aware helpers so optimisation code
// can tag log lines with item IDs, batch run IDs and backend names. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
