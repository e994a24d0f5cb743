package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tonimelisma/localsync/internal/engine"
)

// statusf prints a status message to stderr unless quiet mode is set.
// It backs the run-start/run-finish announcements runSync prints around
// the traversal driver.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB"), used
// by verboseLedger to annotate each per-entry transfer line.
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display in the run-start/
// run-finish status lines.
func formatTime(t time.Time) string {
	now := time.Now()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04:05")
	}

	return t.Format("Jan _2  2006 15:04:05")
}

// printTable writes aligned columns to the given writer. headers and
// each row must have the same length. Used by runSync to print the
// per-action breakdown table under --stats.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// verboseLedger wraps a run's engine.Ledger so every record is streamed
// to w as it is emitted (the --verbose per-entry listing), in addition
// to whatever retention the wrapped ledger already does.
type verboseLedger struct {
	inner engine.Ledger
	w     io.Writer
}

func newVerboseLedger(inner engine.Ledger, w io.Writer) *verboseLedger {
	return &verboseLedger{inner: inner, w: w}
}

func (v *verboseLedger) Emit(r engine.Record) {
	v.inner.Emit(r)
	fmt.Fprintf(v.w, "%-24s %10s  %s\n", r.Action, formatSize(r.BytesTransferred), r.RelativePath)
}

func (v *verboseLedger) Records() []engine.Record {
	return v.inner.Records()
}

// actionBreakdown tallies records by action, for the --stats per-action
// table. Rows appear in first-seen order, matching the deterministic
// record-emission order spec §5 guarantees.
func actionBreakdown(records []engine.Record) [][]string {
	counts := make(map[engine.Action]int)
	order := make([]engine.Action, 0)

	for _, r := range records {
		if _, seen := counts[r.Action]; !seen {
			order = append(order, r.Action)
		}

		counts[r.Action]++
	}

	rows := make([][]string, 0, len(order))
	for _, a := range order {
		rows = append(rows, []string{a.String(), fmt.Sprintf("%d", counts[a])})
	}

	return rows
}
