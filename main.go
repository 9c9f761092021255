package main

// blockmap inventories how files are physically laid out on disk:
// the filesystem block size and the ordered block runs (or holes)
// each regular file occupies. One line per path on stdout; see the
// inventory package for the record format.
//
// You can cross-check the output with "filefrag -v <path>".

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/linux4life798/blockmap/config"
	"github.com/linux4life798/blockmap/inventory"
)

var rootCmd = &cobra.Command{
	Use:   "blockmap [path...]",
	Short: "Report the physical block layout of files",
	Long: `blockmap prints one record per path describing its on-disk layout:
the filesystem block size and the run-length-encoded list of physical
block numbers (and holes) backing each regular file. Directories and
symlinks are classified and recorded; other path types are skipped.

Block numbers are directly comparable across files on the same
filesystem, so the records can be diffed to find shared extents.`,
	Args: cobra.ArbitraryArgs,
	Run:  runScan,
}

func registerScanFlags(cmd *cobra.Command) {
	cmd.Flags().String("files-from", "", "Read paths from this manifest file instead of the arguments (\"-\" for stdin)")
	cmd.Flags().BoolP("null", "0", false, "Manifest entries are NUL-delimited instead of line-delimited")
	cmd.Flags().BoolP("verbose", "v", false, "Trace every path and layout mechanism on stderr")
	cmd.Flags().Bool("progress", false, "Show a progress bar on stderr (only when stderr is a terminal)")
}

func init() {
	registerScanFlags(rootCmd)
}

// applyConfigDefaults lets the config file supply defaults for flags
// the user did not set explicitly. The flag value is updated without
// marking the flag as changed, so "changed" keeps meaning "set on the
// command line".
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig) {
	set := func(name string, val *bool) {
		if val != nil && !cmd.Flags().Changed(name) {
			_ = cmd.Flags().Lookup(name).Value.Set(fmt.Sprintf("%t", *val))
		}
	}
	set("verbose", defaults.Verbose)
	set("progress", defaults.Progress)
	set("null", defaults.Null)
}

// nullMisuse reports whether --null was explicitly requested without a
// manifest to apply it to. A null default from the config file is
// ignored for argv-only runs instead of rejecting them.
func nullMisuse(cmd *cobra.Command, filesFrom string) bool {
	nullSep, _ := cmd.Flags().GetBool("null")
	return nullSep && filesFrom == "" && cmd.Flags().Changed("null")
}

// collectPaths assembles the ordered input path list from the command
// line arguments and, if requested, the manifest stream.
func collectPaths(args []string, filesFrom string, nullSep bool) ([]string, error) {
	paths := append([]string(nil), args...)

	if filesFrom == "" {
		return paths, nil
	}

	var src io.Reader
	if filesFrom == "-" {
		src = os.Stdin
	} else {
		f, err := os.Open(filesFrom)
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		defer f.Close()
		src = f
	}

	manifest, err := readManifest(src, nullSep)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", filesFrom, err)
	}
	return append(paths, manifest...), nil
}

func readManifest(r io.Reader, nullSep bool) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if nullSep {
		sc.Split(splitNull)
	}

	var paths []string
	for sc.Scan() {
		if p := sc.Text(); p != "" {
			paths = append(paths, p)
		}
	}
	return paths, sc.Err()
}

// splitNull is a bufio.SplitFunc for NUL-delimited manifests.
func splitNull(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func runScan(cmd *cobra.Command, args []string) {
	filesFrom, _ := cmd.Flags().GetString("files-from")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	applyConfigDefaults(cmd, cfg.Defaults)

	verbose, _ := cmd.Flags().GetBool("verbose")
	progress, _ := cmd.Flags().GetBool("progress")
	nullSep, _ := cmd.Flags().GetBool("null")

	if nullMisuse(cmd, filesFrom) {
		fmt.Fprintln(os.Stderr, "--null only applies to --files-from manifests")
		os.Exit(2)
	}
	if len(args) == 0 && filesFrom == "" {
		fmt.Fprintln(os.Stderr, "no input paths; pass them as arguments or via --files-from")
		os.Exit(2)
	}

	paths, err := collectPaths(args, filesFrom, nullSep)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var bar *progressbar.ProgressBar
	if progress && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionClearOnFinish(),
		)
	}

	scanner := inventory.NewScanner(os.Stdout, logger)
	for _, path := range paths {
		if err := scanner.ScanPath(path); err != nil {
			if bar != nil {
				bar.Exit()
			}
			logger.Error("aborting run", "path", path, "error", err)
			os.Exit(1)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
