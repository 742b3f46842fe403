// Package backend decides which optimisation strategy is usable in the
// current runtime.
//
// Priority is fixed: the in-process high-quality library, then the in-process
// basic library, then a remote HTTP provider. Selection is a pure function of
// the probed capabilities; the Selector probes once and caches the result for
// the lifetime of the process.
package backend
