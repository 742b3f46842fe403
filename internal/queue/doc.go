// Package queue runs the background optimisation worker.
//
// A single worker polls the optimization_queue table, claims the entry with
// the lowest priority value (oldest first), and hands the item to the
// engine. Retryable failures (remote outages, timeouts) return the entry to
// pending until its retry budget is spent; permanent failures mark it
// failed immediately. Entries stranded in processing by a crash are reset
// when the worker starts.
package queue
