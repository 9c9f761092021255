package inventory

import (
	"os"

	"github.com/linux4life798/blockmap/fstools"
)

// BlockReader is the fallback layout mechanism. It maps every logical
// block of the file individually via FIBMAP and merges the results
// into runs. One ioctl per block, so it is slow on large files, but
// it works on filesystems that predate FIEMAP.
type BlockReader struct{}

func (BlockReader) Name() string { return "fibmap" }

func (BlockReader) ReadLayout(file *os.File, size int64, blockSize int) ([]Run, error) {
	count := ceilDiv(uint64(size), uint64(blockSize))
	if count > 1<<31-1 {
		// FIBMAP addresses logical blocks as a C int; a file this
		// large cannot be introspected block by block.
		return nil, ErrUnsupported
	}
	var m runMerger
	for idx := uint64(0); idx < count; idx++ {
		phys, err := fstools.Fibmap(file, uint32(idx))
		if err != nil {
			// Block-granular mapping has no meaningful partial-success
			// state: a single failure means the file is not
			// introspectable this way.
			return nil, ErrUnsupported
		}
		m.add(uint64(phys))
	}
	return m.finish(), nil
}

// runMerger folds a stream of physical block numbers, one per logical
// block in order, into runs. A physical block of 0 means the logical
// block is unmapped (a hole). Holes and data runs never merge with
// each other.
type runMerger struct {
	runs  []Run
	open  bool
	hole  bool
	first uint64 // first physical block of the data run in progress
	count uint64 // blocks in the run in progress
}

func (m *runMerger) add(phys uint64) {
	switch {
	case !m.open:
	case m.hole && phys == 0:
		m.count++
		return
	case !m.hole && phys == m.first+m.count:
		m.count++
		return
	default:
		m.flush()
	}
	m.open = true
	m.hole = phys == 0
	m.first = phys
	m.count = 1
}

func (m *runMerger) flush() {
	if !m.open {
		return
	}
	if m.hole {
		m.runs = append(m.runs, holeRun(m.count))
	} else {
		m.runs = append(m.runs, blockRange(m.first, m.count))
	}
	m.open = false
}

func (m *runMerger) finish() []Run {
	m.flush()
	return m.runs
}
