// Package stage owns the on-disk lifecycle of a destination write: a
// scoped temp-file or partial-file handle that either commits atomically
// to its final path or is discarded (temp) / retained (partial) when the
// caller drops it without committing. The same EXDEV fallback serves both
// modes, mirrored from the backup-move fallback in package trash.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tonimelisma/localsync/internal/errs"
)

// tempCounter is a process-wide monotonic counter used only for temp-file
// name uniqueness; its lifecycle is the process's, and it never affects
// correctness if it were reset (spec §9: global mutable state note).
var tempCounter uint64

// Mode selects which lifecycle a Guard follows.
type Mode int

const (
	// ModeTemp uses a unique ".rsync-tmp-<basename>-<pid>-<counter>" name
	// in the entry's own directory (or TempDir) and deletes it on an
	// uncommitted drop.
	ModeTemp Mode = iota
	// ModePartial uses the deterministic ".rsync-partial-<basename>" name
	// (or "<partialDir>/<basename>") and retains it on an uncommitted
	// drop, as a caller-visible recovery artifact.
	ModePartial
)

// Guard is a scoped handle over a temporary on-disk file. Callers must
// call exactly one of Commit or Discard, on every exit path (success,
// error, or rollback), per spec §9's scoped-resource-acquisition note.
type Guard struct {
	mode      Mode
	file      *os.File
	tempPath  string
	finalPath string
	committed bool
}

// New opens a staging guard for finalPath according to mode. tempDir (for
// ModeTemp) or partialDir (for ModePartial) is used in place of
// finalPath's own directory when non-empty.
func New(mode Mode, finalPath, sideDir string) (*Guard, error) {
	switch mode {
	case ModeTemp:
		return newTemp(finalPath, sideDir)
	case ModePartial:
		return newPartial(finalPath, sideDir)
	default:
		return nil, fmt.Errorf("stage: unknown mode %d", mode)
	}
}

func newTemp(finalPath, tempDir string) (*Guard, error) {
	dir := filepath.Dir(finalPath)
	if tempDir != "" {
		dir = tempDir
	}

	base := filepath.Base(finalPath)
	pid := os.Getpid()

	for {
		n := atomic.AddUint64(&tempCounter, 1)
		tempPath := filepath.Join(dir, fmt.Sprintf(".rsync-tmp-%s-%d-%d", base, pid, n))

		f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return &Guard{mode: ModeTemp, file: f, tempPath: tempPath, finalPath: finalPath}, nil
		}

		if os.IsExist(err) {
			continue // retry with a fresh counter value
		}

		return nil, errs.NewIo("create temp file", tempPath, err)
	}
}

func newPartial(finalPath, partialDir string) (*Guard, error) {
	base := filepath.Base(finalPath)

	var tempPath string
	if partialDir != "" {
		if err := os.MkdirAll(partialDir, 0o777); err != nil {
			return nil, errs.NewIo("create partial dir", partialDir, err)
		}

		tempPath = filepath.Join(partialDir, base)
	} else {
		tempPath = filepath.Join(filepath.Dir(finalPath), ".rsync-partial-"+base)
	}

	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		return nil, errs.NewIo("remove existing partial", tempPath, err)
	}

	f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errs.NewIo("create partial file", tempPath, err)
	}

	return &Guard{mode: ModePartial, file: f, tempPath: tempPath, finalPath: finalPath}, nil
}

// File returns the underlying writable file handle.
func (g *Guard) File() *os.File { return g.file }

// TempPath returns the on-disk staging path.
func (g *Guard) TempPath() string { return g.tempPath }

// FinalPath returns the path the guard commits to.
func (g *Guard) FinalPath() string { return g.finalPath }

// Commit closes the staging file and atomically renames it to FinalPath,
// falling back to copy+unlink on a cross-device rename. Commit is a
// no-op if already committed (supports the delay-updates lazy-commit path
// racing a hard-link attempt).
func (g *Guard) Commit() error {
	if g.committed {
		return nil
	}

	if err := g.file.Close(); err != nil {
		return errs.NewIo("close staging file", g.tempPath, err)
	}

	err := os.Rename(g.tempPath, g.finalPath)
	if err == nil {
		g.committed = true
		return nil
	}

	if os.IsExist(err) && g.mode == ModeTemp {
		if rerr := os.Remove(g.finalPath); rerr != nil && !os.IsNotExist(rerr) {
			return errs.NewIo("remove destination", g.finalPath, rerr)
		}

		if rerr := os.Rename(g.tempPath, g.finalPath); rerr != nil {
			return errs.NewIo("rename staging file", g.tempPath, rerr)
		}

		g.committed = true

		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, unix.EXDEV) {
		if cerr := copyAcrossDevices(g.tempPath, g.finalPath); cerr != nil {
			return cerr
		}

		if rerr := os.Remove(g.tempPath); rerr != nil && !os.IsNotExist(rerr) {
			return errs.NewIo("remove staging file", g.tempPath, rerr)
		}

		g.committed = true

		return nil
	}

	return errs.NewIo("rename staging file", g.tempPath, err)
}

// Discard releases the guard without committing. A temp-mode guard
// deletes its staging file (best-effort); a partial-mode guard retains it
// as a recovery artifact.
func (g *Guard) Discard() {
	if g.committed {
		return
	}

	g.file.Close() //nolint:errcheck // best-effort on an abandoned guard

	if g.mode == ModeTemp {
		os.Remove(g.tempPath) //nolint:errcheck // best-effort cleanup
	}
}

func copyAcrossDevices(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.NewIo("open staging file", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errs.NewIo("stat staging file", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errs.NewIo("create destination", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return errs.NewIo("copy staging file", dst, err)
	}

	return errs.NewIo("close destination", dst, out.Close())
}
