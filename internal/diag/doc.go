// Package diag collects diagnostics produced while reading guest sources and
// renders toolchain failures for humans.
//
// Parsing phases report into a Reporter; BagReporter stores them in a Bag
// that can be sorted and deduplicated for stable output. Render prints a
// BuildError with the offending source lines beside the raw toolchain
// output, colored when the writer is a terminal.
package diag
