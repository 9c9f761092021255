package inventory

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/linux4life798/blockmap/fstools"
)

// extentBadFlags are the FIEMAP extent states that cannot be
// expressed as raw block numbers. An extent carrying any of them
// makes the file's layout unrepresentable in the record format.
const extentBadFlags = fstools.FIEMAP_EXTENT_UNKNOWN |
	fstools.FIEMAP_EXTENT_DELALLOC |
	fstools.FIEMAP_EXTENT_DATA_ENCRYPTED |
	fstools.FIEMAP_EXTENT_NOT_ALIGNED |
	fstools.FIEMAP_EXTENT_DATA_INLINE |
	fstools.FIEMAP_EXTENT_DATA_TAIL

// ExtentReader is the primary layout mechanism. It maps whole extents
// at a time via FIEMAP, syncing the file first so the result reflects
// committed state.
type ExtentReader struct{}

func (ExtentReader) Name() string { return "fiemap" }

func (ExtentReader) ReadLayout(file *os.File, size int64, blockSize int) ([]Run, error) {
	m := extentMapper{blockSize: uint64(blockSize)}
	err := fstools.FiemapWalk(file, fstools.FIEMAP_FLAG_SYNC, func(_ int, extent *fstools.FiemapExtent) error {
		return m.add(extent)
	})
	if err != nil {
		if fstools.IsUnsupported(err) {
			return nil, ErrUnsupported
		}
		return nil, err
	}
	return m.finish(uint64(size)), nil
}

// extentMapper folds kernel extents, visited in ascending logical
// order, into block runs. The cursor tracks how many logical bytes
// have been accounted for, so gaps between extents surface as holes.
type extentMapper struct {
	blockSize uint64
	cursor    uint64
	runs      []Run
}

func (m *extentMapper) add(extent *fstools.FiemapExtent) error {
	if extent.Logical > m.cursor {
		// Unmapped gap before this extent.
		m.runs = append(m.runs, holeRun(ceilDiv(extent.Logical-m.cursor, m.blockSize)))
	}

	if extent.Flags&fstools.FIEMAP_EXTENT_ENCODED != 0 {
		return errors.Errorf("extent at byte %d is encoded and cannot be mapped to raw blocks", extent.Logical)
	}
	if bad := extent.Flags & extentBadFlags; bad != 0 {
		return errors.Errorf("extent at byte %d is not block-mappable (flags: %s)",
			extent.Logical, strings.Join(fstools.FiemapExtentFlagsToStrings(bad), ","))
	}

	count := ceilDiv(extent.Length, m.blockSize)
	if extent.Flags&fstools.FIEMAP_EXTENT_UNWRITTEN != 0 {
		// Allocated but never written. Not meaningful content, so it
		// is reported the same way the per-block mechanism reports an
		// unmapped region.
		m.runs = append(m.runs, holeRun(count))
	} else {
		m.runs = append(m.runs, blockRange(extent.Physical/m.blockSize, count))
	}

	m.cursor = extent.Logical + extent.Length
	return nil
}

// finish closes the map for a file of the given byte size, emitting a
// trailing hole if the last extent falls short of it.
func (m *extentMapper) finish(size uint64) []Run {
	if m.cursor < size {
		m.runs = append(m.runs, holeRun(ceilDiv(size-m.cursor, m.blockSize)))
	}
	return m.runs
}
