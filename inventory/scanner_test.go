package inventory

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestScanner() (*Scanner, *bytes.Buffer) {
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScanner(&out, log), &out
}

func TestScanPathDirectory(t *testing.T) {
	sc, out := newTestScanner()
	dir := t.TempDir()

	require.NoError(t, sc.ScanPath(dir))
	assert.Equal(t, fmt.Sprintf("d %s\n", EscapeName(dir)), out.String())
}

func TestScanPathMissing(t *testing.T) {
	sc, out := newTestScanner()

	// Unstattable paths are skipped, not fatal.
	require.NoError(t, sc.ScanPath(filepath.Join(t.TempDir(), "nope")))
	assert.Empty(t, out.String())
}

func TestScanPathSymlink(t *testing.T) {
	sc, out := newTestScanner()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink("target name", link))

	require.NoError(t, sc.ScanPath(link))
	assert.Equal(t, fmt.Sprintf("l %s target%%20name\n", EscapeName(link)), out.String())
}

func TestScanPathUnsafeSymlink(t *testing.T) {
	sc, out := newTestScanner()
	dir := t.TempDir()

	for i, target := range []string{"foo/../bar", "./x", "x/./y"} {
		link := filepath.Join(dir, "link"+strconv.Itoa(i))
		require.NoError(t, os.Symlink(target, link))
		require.NoError(t, sc.ScanPath(link))
	}
	assert.Empty(t, out.String(), "unsafe symlinks must produce no record")
}

func TestScanPathEmptyFile(t *testing.T) {
	sc, out := newTestScanner()
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	require.NoError(t, sc.ScanPath(path))
	assert.Equal(t, fmt.Sprintf("f %s 0\n", EscapeName(path)), out.String())
}

func TestScanPathFifoSkipped(t *testing.T) {
	sc, out := newTestScanner()
	path := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, unix.Mkfifo(path, 0644))

	require.NoError(t, sc.ScanPath(path))
	assert.Empty(t, out.String())
}

func TestScanPathUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can open anything")
	}

	sc, out := newTestScanner()
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o000))

	require.NoError(t, sc.ScanPath(path))
	assert.Empty(t, out.String())
}

// fakeReader stands in for a layout mechanism so the fallback chain
// can be exercised without kernel support.
type fakeReader struct {
	name  string
	runs  []Run
	err   error
	calls int
}

func (r *fakeReader) Name() string { return r.name }

func (r *fakeReader) ReadLayout(*os.File, int64, int) ([]Run, error) {
	r.calls++
	return r.runs, r.err
}

// scanWithReaders runs ScanPath over a fresh non-empty file with the
// given mechanism chain substituted in.
func scanWithReaders(t *testing.T, readers ...LayoutReader) (*bytes.Buffer, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x42}, 4096), 0644))

	sc, out := newTestScanner()
	sc.readers = readers
	err := sc.ScanPath(path)
	if err != nil && strings.Contains(err.Error(), "block size") {
		t.Skipf("FIGETBSZ unavailable here: %v", err)
	}
	return out, err
}

func TestReadLayoutFallsBackWhenUnsupported(t *testing.T) {
	primary := &fakeReader{name: "primary", err: ErrUnsupported}
	fallback := &fakeReader{name: "fallback", runs: []Run{blockRange(7, 2)}}

	out, err := scanWithReaders(t, primary, fallback)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Contains(t, out.String(), " 7-8\n")
}

func TestReadLayoutHardErrorIsFatal(t *testing.T) {
	primary := &fakeReader{name: "primary", err: fmt.Errorf("extent at byte 0 is encoded and cannot be mapped to raw blocks")}
	fallback := &fakeReader{name: "fallback", runs: []Run{blockRange(7, 2)}}

	out, err := scanWithReaders(t, primary, fallback)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoded")
	assert.Equal(t, 0, fallback.calls, "a hard error must abort without trying the fallback mechanism")
	assert.Empty(t, out.String(), "no record may be emitted for the failed file")
}

func TestReadLayoutBothUnsupportedIsFatal(t *testing.T) {
	primary := &fakeReader{name: "primary", err: ErrUnsupported}
	fallback := &fakeReader{name: "fallback", err: ErrUnsupported}

	out, err := scanWithReaders(t, primary, fallback)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no layout mechanism supported")
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Empty(t, out.String())
}

// failWriter simulates a consumer that closed the record stream.
type failWriter struct{}

func (failWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("broken pipe")
}

func TestEmitFailureIsFatal(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sc := NewScanner(failWriter{}, log)

	err := sc.ScanPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write record")
}

var fileRecordRe = regexp.MustCompile(`^f (\S+) (\d+) (\d+)((?: \d+(?:-\d+)?)+)\n$`)

// scanRegular scans one real file and parses its record, skipping the
// test when neither layout mechanism works on the filesystem backing
// the test directory.
func scanRegular(t *testing.T, path string, size int64) (blockSize uint64, runs []string, raw string) {
	t.Helper()

	sc, out := newTestScanner()
	err := sc.ScanPath(path)
	if err != nil {
		// Both mechanisms unavailable (or FIGETBSZ rejected) on the
		// filesystem backing the test directory.
		t.Skipf("cannot map layout here: %v", err)
	}

	m := fileRecordRe.FindStringSubmatch(out.String())
	require.NotNilf(t, m, "record %q does not match the file format", out.String())
	assert.Equal(t, EscapeName(path), m[1])
	assert.Equal(t, strconv.FormatInt(size, 10), m[2])

	blockSize, perr := strconv.ParseUint(m[3], 10, 64)
	require.NoError(t, perr)
	require.NotZero(t, blockSize)

	return blockSize, strings.Fields(m[4]), out.String()
}

func TestScanPathRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	data := bytes.Repeat([]byte("blockmap"), 4096)
	require.NoError(t, os.WriteFile(path, data, 0644))

	blockSize, runs, _ := scanRegular(t, path, int64(len(data)))

	// Every block of the file must be accounted for, as data or hole.
	var total uint64
	for _, tok := range runs {
		first, last, hole := parseRunToken(t, tok)
		if hole {
			total += last + 1
		} else {
			total += last - first + 1
		}
	}
	want := (uint64(len(data)) + blockSize - 1) / blockSize
	assert.Equal(t, want, total)
}

func TestScanPathIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 64*1024), 0644))

	_, _, first := scanRegular(t, path, 64*1024)
	_, _, second := scanRegular(t, path, 64*1024)
	assert.Equal(t, first, second)
}

func parseRunToken(t *testing.T, tok string) (first, last uint64, hole bool) {
	t.Helper()

	parts := strings.SplitN(tok, "-", 2)
	first, err := strconv.ParseUint(parts[0], 10, 64)
	require.NoError(t, err)
	last = first
	if len(parts) == 2 {
		last, err = strconv.ParseUint(parts[1], 10, 64)
		require.NoError(t, err)
		require.LessOrEqual(t, first, last)
	}
	return first, last, first == 0 && len(parts) == 2
}
