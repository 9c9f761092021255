// Package inventory walks a list of paths and emits one record per
// path describing how it is physically laid out on disk: the
// filesystem block size and the run-length-encoded list of physical
// block numbers (and holes) backing each regular file.
//
// Records for files on the same filesystem use directly comparable
// block numbers, so a downstream consumer can detect shared or
// overlapping on-disk extents across files.
package inventory

import (
	"strconv"
	"strings"
)

// Run is one token of a file's physical layout: a single block, an
// inclusive range of consecutive blocks, or a hole. Block numbers are
// the kernel's physical block numbers for the file's filesystem.
//
// A hole is rendered as a synthetic range starting at block 0. The
// block number 0 is a sentinel in this format, never a legitimate
// physical block, so holes cannot be confused with data runs.
type Run struct {
	First uint64
	Last  uint64
	Hole  bool
}

// blockRange builds a data run of count consecutive blocks starting
// at first. count must be at least 1.
func blockRange(first, count uint64) Run {
	return Run{First: first, Last: first + count - 1}
}

// holeRun builds a hole spanning count blocks. count must be at
// least 1.
func holeRun(count uint64) Run {
	return Run{First: 0, Last: count - 1, Hole: true}
}

// blocks returns the number of filesystem blocks the run covers.
func (r Run) blocks() uint64 {
	return r.Last - r.First + 1
}

// String renders the run in the record format: a lone decimal block
// number, an inclusive "first-last" range, or "0-n" for a hole of n+1
// blocks.
func (r Run) String() string {
	if r.Hole {
		return "0-" + strconv.FormatUint(r.Last, 10)
	}
	if r.First == r.Last {
		return strconv.FormatUint(r.First, 10)
	}
	return strconv.FormatUint(r.First, 10) + "-" + strconv.FormatUint(r.Last, 10)
}

// formatRuns renders runs space-separated in logical order.
func formatRuns(runs []Run) string {
	parts := make([]string, len(runs))
	for i, r := range runs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}
