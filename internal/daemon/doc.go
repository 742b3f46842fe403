// Package daemon coordinates the long-running optimiser process.
//
// It wires the api.Service into a single lifecycle guarded by a flock so only
// one miod runs per state directory. While running it drains the background
// queue, follows the media tree for new uploads when auto_optimize is on, and
// runs periodic maintenance: backup retention, queue cleanup and log
// retention.
//
// Keep orchestration here; optimisation, batching and storage live in their
// own packages.
package daemon
