package inventory

import (
	"os"

	"github.com/pkg/errors"
)

// ErrUnsupported reports that a layout mechanism is not available for
// a file on this kernel/filesystem combination. The caller falls back
// to the next mechanism; it never mixes partial results.
var ErrUnsupported = errors.New("layout mechanism not supported for this file")

// A LayoutReader maps one open regular file to its ordered block
// runs. size is the file's size in bytes and blockSize the
// filesystem's allocation granularity for it, both determined by the
// caller. Implementations return ErrUnsupported when the mechanism is
// unavailable; any other error is a hard failure.
type LayoutReader interface {
	Name() string
	ReadLayout(file *os.File, size int64, blockSize int) ([]Run, error)
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}
