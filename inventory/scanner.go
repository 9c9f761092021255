package inventory

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/linux4life798/blockmap/fstools"
)

// Scanner processes input paths one at a time, strictly in order, and
// writes one record per accepted path to Out. Diagnostics go to Log
// (stderr by convention) and never interleave with records.
//
// Record format, one line per path:
//
//	f <name> <size>                            empty regular file
//	f <name> <size> <blocksize> <run> [...]    regular file
//	d <name>                                   directory
//	l <name> <target>                          symlink
//
// Names and targets are escaped with EscapeName.
type Scanner struct {
	Out     io.Writer
	Log     *slog.Logger
	readers []LayoutReader
}

// NewScanner returns a Scanner with the standard mechanism order:
// extent-based mapping first, per-block mapping as the fallback.
func NewScanner(out io.Writer, log *slog.Logger) *Scanner {
	return &Scanner{
		Out:     out,
		Log:     log,
		readers: []LayoutReader{ExtentReader{}, BlockReader{}},
	}
}

// ScanPath classifies one path and emits its record. A nil return
// means the path was recorded or deliberately skipped; a non-nil
// error is fatal to the whole run.
func (s *Scanner) ScanPath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		s.Log.Warn("cannot stat path, skipping", "path", path, "error", err)
		return nil
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return s.scanSymlink(path)
	case mode.IsDir():
		return s.emit("d %s\n", EscapeName(path))
	case mode.IsRegular():
		return s.scanFile(path, info.Size())
	default:
		// Sockets, devices, fifos.
		s.Log.Debug("skipping special file", "path", path, "mode", mode.String())
	}
	return nil
}

func (s *Scanner) scanSymlink(path string) error {
	target, err := os.Readlink(path)
	if err != nil {
		s.Log.Warn("cannot read symlink target, skipping", "path", path, "error", err)
		return nil
	}
	if !SafeLinkTarget(path, target) {
		s.Log.Warn("symlink target could escape the scan root, skipping", "path", path, "target", target)
		return nil
	}
	return s.emit("l %s %s\n", EscapeName(path), EscapeName(target))
}

func (s *Scanner) scanFile(path string, size int64) error {
	file, err := os.Open(path)
	if err != nil {
		s.Log.Warn("cannot open file, skipping", "path", path, "error", err)
		return nil
	}
	defer file.Close()

	if size == 0 {
		// No blocks to speak of; block size is omitted as well.
		return s.emit("f %s 0\n", EscapeName(path))
	}

	blockSize, err := fstools.Figetbsz(file)
	if err != nil {
		return errors.Wrapf(err, "block size of %s", path)
	}
	if blockSize <= 0 {
		return errors.Errorf("kernel reported block size %d for %s", blockSize, path)
	}

	runs, err := s.readLayout(path, file, size, blockSize)
	if err != nil {
		return errors.Wrapf(err, "layout of %s", path)
	}

	return s.emit("f %s %d %d %s\n", EscapeName(path), size, blockSize, formatRuns(runs))
}

// readLayout tries each mechanism in priority order. Partial results
// from one mechanism are never mixed with another's.
func (s *Scanner) readLayout(path string, file *os.File, size int64, blockSize int) ([]Run, error) {
	for _, reader := range s.readers {
		runs, err := reader.ReadLayout(file, size, blockSize)
		if err == nil {
			s.Log.Debug("mapped file layout",
				"path", path, "mechanism", reader.Name(), "blocksize", blockSize, "runs", len(runs))
			return runs, nil
		}
		if err == ErrUnsupported {
			s.Log.Debug("layout mechanism unsupported, falling back", "path", path, "mechanism", reader.Name())
			continue
		}
		return nil, errors.Wrapf(err, "%s", reader.Name())
	}
	return nil, errors.New("no layout mechanism supported for this file")
}

// emit writes one record line. A write failure is fatal: the stream
// is the whole product, and a consumer must never mistake a
// truncated stream for a complete one that simply exits 0.
func (s *Scanner) emit(format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(s.Out, format, args...); err != nil {
		return errors.Wrap(err, "write record")
	}
	return nil
}
