package engine

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary accumulates the run-wide counters documented in spec §3. The
// byte counters, added through Context's AddXxx helpers, saturate at the
// native 64-bit unsigned maximum instead of wrapping. The per-entry counts
// are plain increments and are not clamped.
type Summary struct {
	RegularFilesTotal         uint64
	RegularFilesMatched       uint64
	RegularFilesIgnoredExisting uint64
	RegularFilesSkippedNewer  uint64

	DirectoriesTotal   uint64
	DirectoriesCreated uint64

	SymlinksTotal  uint64
	SymlinksCopied uint64

	DevicesTotal   uint64
	DevicesCreated uint64

	FifosTotal   uint64
	FifosCreated uint64

	HardLinksCreated uint64
	ItemsDeleted     uint64
	SourcesRemoved   uint64

	BytesCopied            uint64
	BytesMatched            uint64
	BytesSent               uint64
	BytesReceived           uint64
	BytesTransferredFileSize uint64
	BytesCompressed         uint64

	CompressionUsed bool

	TotalElapsed          time.Duration
	FileListGeneration    time.Duration
	FileListTransfer      time.Duration
}

// addSat adds delta to *counter, saturating at math.MaxUint64.
func addSat(counter *uint64, delta uint64) {
	if delta == 0 {
		return
	}

	if math.MaxUint64-*counter < delta {
		*counter = math.MaxUint64
		return
	}

	*counter += delta
}

// Render writes a human-readable (or, with humanize=false, raw-number)
// rendering of the summary, following the reference tool's --stats
// layout. Purely an observability convenience: it adds no fields beyond
// what spec §3 already documents (SPEC_FULL.md §9 note 1).
func (s *Summary) Render(w io.Writer, humanizeBytes bool) {
	size := func(n uint64) string {
		if humanizeBytes {
			return humanize.Bytes(n)
		}

		return fmt.Sprintf("%d", n)
	}

	fmt.Fprintf(w, "Number of files: %d (reg: %d, dir: %d, link: %d, dev: %d, special: %d)\n",
		s.RegularFilesTotal+s.DirectoriesTotal+s.SymlinksTotal+s.DevicesTotal+s.FifosTotal,
		s.RegularFilesTotal, s.DirectoriesTotal, s.SymlinksTotal, s.DevicesTotal, s.FifosTotal)
	fmt.Fprintf(w, "Number of created files: %d\n", s.DirectoriesCreated+s.DevicesCreated+s.FifosCreated)
	fmt.Fprintf(w, "Number of regular files transferred: %d\n", s.RegularFilesMatched)
	fmt.Fprintf(w, "Number of deleted files: %d\n", s.ItemsDeleted)
	fmt.Fprintf(w, "Total file size: %s\n", size(s.BytesTransferredFileSize))
	fmt.Fprintf(w, "Total transferred file size: %s\n", size(s.BytesCopied+s.BytesMatched))
	fmt.Fprintf(w, "Literal data: %s\n", size(s.BytesCopied))
	fmt.Fprintf(w, "Matched data: %s\n", size(s.BytesMatched))
	fmt.Fprintf(w, "Total bytes sent: %s\n", size(s.BytesSent))
	fmt.Fprintf(w, "Total bytes received: %s\n", size(s.BytesReceived))

	if s.CompressionUsed {
		fmt.Fprintf(w, "Total compressed size: %s\n", size(s.BytesCompressed))
	}

	fmt.Fprintf(w, "Elapsed time: %s\n", s.TotalElapsed)
}
