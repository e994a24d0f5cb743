package walk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/filter"
	"github.com/tonimelisma/localsync/internal/meta"
	"github.com/tonimelisma/localsync/internal/operand"
	"github.com/tonimelisma/localsync/internal/transfer"
)

// runSource resolves one source operand's destination path and
// dispatches its traversal: a directory root descends via walkDir, a
// non-directory root transfers directly via transferSingle.
func (d *Driver) runSource(ctx context.Context, src operand.Operand, destDirRequired bool, destRoot string) error {
	rootSnap, _, err := d.captureEntry(src.Path, d.Opts.Xattrs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && d.Opts.IgnoreMissingArgs {
			return nil
		}

		return errs.NewIo("stat", src.Path, err)
	}

	destName, destDir := d.resolveDestination(src, destDirRequired, destRoot)

	if rootSnap.Kind == meta.KindDir {
		if err := os.MkdirAll(destDir, 0o777); err != nil {
			return errs.NewIo("mkdir", destDir, err)
		}

		relRoot := ""
		if src.RelativePrefixComponents >= 0 {
			relRoot = relativeRootFor(src)
		}

		_, err := d.walkDir(ctx, src.Path, destName, relRoot, rootSnap.Dev)

		return err
	}

	return d.transferSingle(ctx, src, rootSnap, destName)
}

// resolveDestination computes where a source operand's root entry lands:
// --relative always preserves the marker-delimited suffix under destRoot;
// a trailing-separator (copy_contents) source lands its children directly
// under destRoot; otherwise the entry joins destRoot under its own
// basename when a directory destination is required, or targets destRoot
// literally (rename semantics) when it is not.
func (d *Driver) resolveDestination(src operand.Operand, destDirRequired bool, destRoot string) (destName, destDir string) {
	switch {
	case src.RelativePrefixComponents >= 0:
		destName = filepath.Join(destRoot, relativeRootFor(src))
	case src.CopyContents:
		destName = destRoot
	case destDirRequired:
		destName = filepath.Join(destRoot, filepath.Base(strings.TrimRight(src.Path, "/\\")))
	default:
		destName = destRoot
	}

	return destName, filepath.Dir(destName)
}

// transferSingle transfers a non-directory root operand (file, symlink,
// FIFO, or device) directly, without walkDir's per-directory deletion
// and recursion bookkeeping.
func (d *Driver) transferSingle(ctx context.Context, src operand.Operand, snap meta.Snapshot, destName string) error {
	relPath := filepath.Base(destName)
	if src.RelativePrefixComponents >= 0 {
		relPath = relativeRootFor(src)
	}

	if err := os.MkdirAll(filepath.Dir(destName), 0o777); err != nil {
		return errs.NewIo("mkdir", filepath.Dir(destName), err)
	}

	ephemeral, pop, err := d.Filter.EnterDir(filepath.Dir(src.Path))
	if err != nil {
		return err
	}
	defer pop()

	outcome := d.Filter.Evaluate(relPath, false, filter.ContextTransfer, ephemeral)
	if !outcome.AllowsTransfer() {
		return nil
	}

	task := transfer.FileTask{RelPath: relPath, SrcPath: src.Path, DstPath: destName, SrcSnap: snap}

	switch snap.Kind {
	case meta.KindSymlink:
		return d.Xfer.TransferSymlink(d.RC, task, filepath.Dir(relPath))
	case meta.KindFifo:
		return d.Xfer.TransferFifo(d.RC, task)
	case meta.KindDevice:
		return d.Xfer.TransferDevice(d.RC, task)
	default:
		return d.Xfer.CopyFile(ctx, d.RC, task)
	}
}

// relativeRootFor reconstructs the path --relative preserves under the
// destination root: every component from src's "." marker onward, using
// operand.Parse's own split semantics so the two never disagree about
// where the marker fell.
func relativeRootFor(src operand.Operand) string {
	slash := strings.ReplaceAll(src.Path, "\\", "/")
	components := strings.Split(slash, "/")

	idx := src.RelativePrefixComponents
	if idx < 0 || idx+1 >= len(components) {
		return filepath.Base(src.Path)
	}

	preserved := components[idx+1:]
	if len(preserved) == 0 {
		return "."
	}

	return filepath.Join(preserved...)
}
