package walk

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/filter"
	"github.com/tonimelisma/localsync/internal/meta"
	"github.com/tonimelisma/localsync/internal/option"
	"github.com/tonimelisma/localsync/internal/transfer"
)

// entryPlan is one directory child that survived filtering, carrying its
// already-captured source snapshot so dispatch never re-stats it.
type entryPlan struct {
	name    string
	srcPath string
	dstPath string
	relPath string
	snap    meta.Snapshot
}

// walkDir descends srcDir depth-first, pre-order: it classifies every
// child against the filter program, sweeps deletions at the configured
// timing, dispatches each kept entry to package transfer, and applies
// directory metadata last so writing into the directory doesn't disturb
// it. kept reports whether anything survived filtering, for the caller's
// prune-empty-dirs decision.
func (d *Driver) walkDir(ctx context.Context, srcDir, dstDir, relDir string, rootDev uint64) (kept bool, err error) {
	if err := d.RC.CheckTimeout(); err != nil {
		return false, err
	}

	srcSnap, err := meta.Capture(srcDir, d.Opts.Xattrs)
	if err != nil {
		return false, errs.NewIo("stat", srcDir, err)
	}

	created, err := d.Xfer.EnsureDirectory(d.RC, dstDir)
	if err != nil {
		return false, err
	}

	ephemeral, pop, err := d.Filter.EnterDir(srcDir)
	if err != nil {
		return false, err
	}
	defer pop()

	if d.Filter.ExcludedByPresence(srcDir, ephemeral) {
		if created && d.Opts.PruneEmptyDirs {
			os.Remove(dstDir) //nolint:errcheck // best-effort, directory is empty
		}

		return false, nil
	}

	rawEntries, err := os.ReadDir(srcDir)
	if err != nil {
		return false, errs.NewIo("readdir", srcDir, err)
	}

	entries := sortEntries(rawEntries)

	planned := make([]entryPlan, 0, len(entries))
	keepNames := make(map[string]bool, len(entries))

	for _, ent := range entries {
		name := ent.Name()
		srcPath := filepath.Join(srcDir, name)

		snap, _, cerr := d.captureEntry(srcPath, d.Opts.Xattrs)
		if cerr != nil {
			d.RC.Logger.Warn("stat failed during traversal", "path", srcPath, "error", cerr)
			continue
		}

		isDir := snap.Kind == meta.KindDir

		if isDir && d.Opts.OneFileSystem && snap.Dev != rootDev {
			continue
		}

		relPath := filepath.Join(relDir, name)

		outcome := d.Filter.Evaluate(relPath, isDir, filter.ContextTransfer, ephemeral)
		if !outcome.AllowsTransfer() {
			continue
		}

		keepNames[name] = true
		planned = append(planned, entryPlan{
			name:    name,
			srcPath: srcPath,
			dstPath: filepath.Join(dstDir, name),
			relPath: relPath,
			snap:    snap,
		})
	}

	timing := d.effectiveTiming()
	decideLive := func(relPath string, isDir bool) bool {
		return d.Filter.Evaluate(relPath, isDir, filter.ContextDeletion, ephemeral).AllowsDeletion(d.Opts.DeleteExcluded)
	}

	if d.deleteEnabled() && timing == option.DeleteTimingBefore {
		if err := d.sweepNow(dstDir, relDir, keepNames, decideLive); err != nil {
			return false, err
		}
	}

	anyKept := false

	for _, ep := range planned {
		if err := d.RC.CheckTimeout(); err != nil {
			return false, err
		}

		childKept, derr := d.dispatch(ctx, ep, rootDev)
		if derr != nil {
			return false, derr
		}

		if childKept {
			anyKept = true
		}
	}

	if d.deleteEnabled() {
		switch timing {
		case option.DeleteTimingDuring:
			if err := d.sweepNow(dstDir, relDir, keepNames, decideLive); err != nil {
				return false, err
			}
		case option.DeleteTimingDelay, option.DeleteTimingAfter:
			d.RC.QueueDeletion(engine.DeferredDeletion{
				DestinationDir: dstDir,
				RelativeDir:    relDir,
				KeepNames:      keepNames,
				Timing:         timing,
				Decide:         d.frozenDecider(ephemeral),
			})
		}
	}

	if err := meta.ApplyDir(dstDir, srcSnap, d.Opts, d.Xfer.ACL); err != nil {
		d.RC.Logger.Warn("directory metadata apply failed", "path", dstDir, "error", err)
	}

	if !anyKept && created && d.Opts.PruneEmptyDirs {
		os.Remove(dstDir) //nolint:errcheck // best-effort, directory is empty
		return false, nil
	}

	return true, nil
}

// dispatch routes one classified entry to its transfer path, recursing
// for directories.
func (d *Driver) dispatch(ctx context.Context, ep entryPlan, rootDev uint64) (bool, error) {
	if ep.snap.Kind == meta.KindDir {
		return d.walkDir(ctx, ep.srcPath, ep.dstPath, ep.relPath, rootDev)
	}

	task := transfer.FileTask{RelPath: ep.relPath, SrcPath: ep.srcPath, DstPath: ep.dstPath, SrcSnap: ep.snap}

	switch ep.snap.Kind {
	case meta.KindSymlink:
		return true, d.Xfer.TransferSymlink(d.RC, task, filepath.Dir(ep.relPath))
	case meta.KindFifo:
		return true, d.Xfer.TransferFifo(d.RC, task)
	case meta.KindDevice:
		return true, d.Xfer.TransferDevice(d.RC, task)
	default:
		return true, d.Xfer.CopyFile(ctx, d.RC, task)
	}
}

// sweepNow runs an immediate (Before/During) deletion sweep, without
// going through the deferred-queue path.
func (d *Driver) sweepNow(dstDir, relDir string, keepNames map[string]bool, decide transfer.DeletionDecider) error {
	dd := engine.DeferredDeletion{DestinationDir: dstDir, RelativeDir: relDir, KeepNames: keepNames}
	return d.Xfer.SweepDirectory(d.RC, dd, decide)
}

// frozenDecider captures the filter engine's currently-active dir-merge
// layers into a standalone deletion decider, for a sweep that will run
// after this directory's EnterDir/pop scope has already closed (Delay,
// After).
func (d *Driver) frozenDecider(ephemeral []*filter.Layer) func(relPath string, isDir bool) bool {
	evalSnap := d.Filter.EvaluateSnapshot(ephemeral)
	deleteExcluded := d.Opts.DeleteExcluded

	return func(relPath string, isDir bool) bool {
		return evalSnap(relPath, isDir, filter.ContextDeletion).AllowsDeletion(deleteExcluded)
	}
}

// captureEntry captures srcPath's metadata, re-pointing a symlink at its
// target's snapshot when copy-links (always) or copy-dirlinks (directory
// targets only) calls for following it. followed reports whether the
// returned snapshot describes the resolved target rather than the link
// itself.
func (d *Driver) captureEntry(srcPath string, wantXattrs bool) (snap meta.Snapshot, followed bool, err error) {
	snap, err = meta.Capture(srcPath, wantXattrs)
	if err != nil {
		return meta.Snapshot{}, false, err
	}

	if snap.Kind != meta.KindSymlink {
		return snap, false, nil
	}

	follow := d.Opts.CopyLinks

	if !follow && d.Opts.CopyDirlinks {
		if info, serr := os.Stat(srcPath); serr == nil && info.IsDir() {
			follow = true
		}
	}

	if !follow {
		return snap, false, nil
	}

	resolved, err := filepath.EvalSymlinks(srcPath)
	if err != nil {
		// Dangling symlink under copy-links: fall back to transferring the
		// link itself rather than failing the whole entry.
		return snap, false, nil
	}

	target, err := meta.Capture(resolved, wantXattrs)
	if err != nil {
		return snap, false, nil
	}

	return target, true, nil
}

// sortEntries re-sorts directory entries by Unicode-normalized name so a
// destination tree built on a filesystem that stores decomposed Unicode
// (notably HFS+) still walks in the same order as one built on a
// filesystem that stores it precomposed.
func sortEntries(entries []os.DirEntry) []os.DirEntry {
	out := append([]os.DirEntry(nil), entries...)

	sort.SliceStable(out, func(i, j int) bool {
		return norm.NFC.String(out[i].Name()) < norm.NFC.String(out[j].Name())
	})

	return out
}
