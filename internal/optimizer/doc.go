// Package optimizer runs one catalogue item through the backend chain.
//
// The engine stats and classifies the file, takes a backup when configured,
// then offers the file to each backend in priority order until one accepts
// it. Derived sizes reuse the winning backend. Every outcome is persisted as
// the item's record and appended to the optimisation log; the engine never
// decides whether an already-optimised item should run again.
package optimizer
