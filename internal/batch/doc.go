// Package batch drives the engine over the catalogue in bounded pages.
//
// The cursor (run id, offset, counters, state) lives in the database so a
// run survives process restarts. A page is selected from items the current
// run still owns: items with no record, items not yet optimised, and items
// the run itself already touched. Processed items therefore stay in the
// result set and offsets remain stable across pages.
//
// Pages are serialised: an in-process mutex guards against concurrent
// callers in one process and a lock file guards against other processes.
// Pause is cooperative and only takes effect between pages.
package batch
