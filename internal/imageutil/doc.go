// Package imageutil holds the leaf helpers shared by the optimisation pipeline:
// content-based format detection, dimension probing, size formatting and the
// savings arithmetic that every record relies on.
package imageutil
