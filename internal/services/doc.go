// Package services defines shared error markers and context helpers used by the
// optimisation backends, the engine and the batch/queue drivers.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, batch run IDs and backend names for
//     logging.
//   - Structured error markers plus the Wrap helper so per-item failures can be
//     classified (skip, fall back, retry) without string matching.
//
// Use Wrap with one of the exported markers whenever a backend or store returns
// an error that callers need to classify.
package services
