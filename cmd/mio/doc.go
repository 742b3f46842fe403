// Command mio is the operator CLI for the image optimiser.
//
// It opens the catalogue directly and drives the same service the daemon
// uses: scanning, single-item and batch optimisation, backups, the
// background queue and backend diagnostics. The daemon subcommands start
// and stop miod through its lock file, and logs tails its output. Most
// commands accept --json for machine-readable output.
package main
