package transfer

import (
	"context"
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/meta"
	"github.com/tonimelisma/localsync/internal/option"
	"github.com/tonimelisma/localsync/internal/stage"
)

// isCrossDeviceErr reports whether err is the platform's "link crosses
// devices" errno (spec §9 note 3: Linux EXDEV=18, documented Windows
// equivalent 17), the trigger for degrading a hard-link attempt to a copy.
func isCrossDeviceErr(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, unix.EXDEV)
}

// CopyFile runs the per-file decision machine for one regular-file
// source entry against its destination counterpart (spec §4.4.1):
//
//  1. skip entries excluded by min/max size
//  2. ignore-existing / update-newer skip
//  3. skip when existing destination content already matches
//  4. link-dest / compare-dest / copy-dest reference scan
//  5. hard-link to another already-materialized destination with the
//     same source inode
//  6. backup the live destination entry before it is replaced
//  7. ensure the parent directory exists
//  8. write content: append continuation, in-place, or staged
//     (whole-file or delta), then commit
//  9. apply metadata
//
// ctx is the stdlib context used for bandwidth-limiter waits; rc is the
// run-scoped state shared with the traversal driver.
func (e *Engine) CopyFile(ctx context.Context, rc *engine.Context, task FileTask) error {
	if err := rc.CheckTimeout(); err != nil {
		return err
	}

	size := task.SrcSnap.Size

	if e.Opts.MinSize > 0 && size < e.Opts.MinSize {
		return nil
	}

	if e.Opts.MaxSize > 0 && size > e.Opts.MaxSize {
		return nil
	}

	rc.Summary.RegularFilesTotal++

	destInfo, err := existingDestInfo(task.DstPath)
	if err != nil {
		return errs.NewIo("lstat", task.DstPath, err)
	}

	if destInfo != nil && destInfo.IsDir() {
		return errs.NewInvalidArgument(errs.ReasonReplaceDirectoryWithFile, task.DstPath)
	}

	// Update is checked before ignore-existing (spec §9 open question 1:
	// the reference tool applies update first when both are set).
	if destInfo != nil && e.Opts.Update && !destInfo.ModTime().Before(task.SrcSnap.Mtime) {
		rc.Summary.RegularFilesSkippedNewer++
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SkippedNewerDestination})

		return nil
	}

	if destInfo != nil && e.Opts.IgnoreExisting {
		rc.Summary.RegularFilesIgnoredExisting++
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SkippedExisting})

		return nil
	}

	if len(e.Opts.LinkDests) > 0 {
		if linked, err := e.tryLinkDest(rc, task, size); err != nil {
			return err
		} else if linked {
			return nil
		}
	}

	if destInfo != nil {
		equal, err := e.equalUnderComparison(task.DstPath, destInfo, task.SrcPath, size, task.SrcSnap.Mtime)
		if err != nil {
			return err
		}

		if equal {
			if err := meta.ApplyFile(task.DstPath, task.SrcSnap, e.Opts, e.ACL); err != nil {
				e.Logger.Warn("metadata reapply failed", "path", task.DstPath, "error", err)
			}

			rc.Summary.RegularFilesMatched++
			rc.Touch()
			rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.MetadataReused})

			return nil
		}
	}

	if e.Opts.HardLinks {
		if linked, err := e.tryHardLinkFromPeer(rc, task); err != nil {
			return err
		} else if linked {
			return nil
		}
	}

	if len(e.Opts.References) > 0 {
		handled, err := e.tryReference(rc, task, size)
		if err != nil {
			return err
		}

		if handled {
			return nil
		}
	}

	if e.Opts.Backup {
		if err := e.backupExisting(task.RelPath, task.DstPath); err != nil {
			return err
		}

		destInfo = nil
	}

	if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
		return err
	}

	wasCreated := destInfo == nil

	out, err := e.writeRegularFile(ctx, rc, task, destInfo)
	if err != nil {
		return err
	}

	if wasCreated {
		rc.RecordCreated(task.DstPath, engine.CreatedFile)
	}

	if e.Opts.HardLinks {
		rc.HardLinkRegister(engine.HardLinkKey{Device: task.SrcSnap.Dev, Inode: task.SrcSnap.Ino}, task.DstPath)
	}

	if e.Opts.RemoveSourceFiles {
		if err := os.Remove(task.SrcPath); err != nil && !os.IsNotExist(err) {
			e.Logger.Warn("remove source after transfer failed", "path", task.SrcPath, "error", err)
		} else {
			rc.Summary.SourcesRemoved++
			rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SourceRemoved})
		}
	}

	rc.Summary.RegularFilesMatched++
	rc.AddTransferredFileSize(size)
	rc.AddCopiedBytes(out.literalBytes)
	rc.AddMatchedBytes(out.matchedBytes)
	rc.AddSentBytes(out.sentBytes)
	rc.AddReceivedBytes(out.sentBytes)

	if out.usedCompression {
		rc.Summary.CompressionUsed = true
		rc.AddCompressedBytes(out.compressedBytes)
	}

	rc.Touch()
	rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.DataCopied, BytesTransferred: size, WasCreated: wasCreated})

	return nil
}

// tryHardLinkFromPeer links task.DstPath to a destination path already
// materialized in this run for the same source (device, inode) pair
// (spec §4.4.1 step 5 / Options.HardLinks), racing a not-yet-committed
// delay-updates guard by committing it on demand.
func (e *Engine) tryHardLinkFromPeer(rc *engine.Context, task FileTask) (bool, error) {
	key := engine.HardLinkKey{Device: task.SrcSnap.Dev, Inode: task.SrcSnap.Ino}

	peer, ok := rc.HardLinkLookup(key)
	if !ok || peer == task.DstPath {
		return false, nil
	}

	if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
		return false, err
	}

	if e.Opts.Backup {
		if err := e.backupExisting(task.RelPath, task.DstPath); err != nil {
			return false, err
		}
	} else {
		os.Remove(task.DstPath) //nolint:errcheck // replaced by the new link below
	}

	if err := os.Link(peer, task.DstPath); err != nil {
		if committed, cerr := rc.CommitDeferredFor(peer); cerr == nil && committed {
			if lerr := os.Link(peer, task.DstPath); lerr == nil {
				rc.RecordCreated(task.DstPath, engine.CreatedHardlink)
				rc.Summary.HardLinksCreated++
				rc.Touch()
				rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.HardLink})

				return true, nil
			}
		}

		return false, errs.NewIo("link", task.DstPath, err)
	}

	rc.RecordCreated(task.DstPath, engine.CreatedHardlink)
	rc.Summary.HardLinksCreated++
	rc.Touch()
	rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.HardLink})

	return true, nil
}

// tryLinkDest resolves a match from Options.LinkDests (spec §4.4.1 step
// 8), distinct from the compare/copy/link-dest Reference list (step 10):
// a link-dest match only ever hard-links, degrading to a copy when the
// link crosses devices.
func (e *Engine) tryLinkDest(rc *engine.Context, task FileTask, size int64) (bool, error) {
	candidate, ok, err := e.linkDestMatch(task.RelPath, task.SrcPath, size, task.SrcSnap.Mtime)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, nil
	}

	if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
		return false, err
	}

	existed := pathExists(task.DstPath)
	if existed {
		os.Remove(task.DstPath) //nolint:errcheck // replaced by the new link below
	}

	if err := os.Link(candidate, task.DstPath); err != nil {
		if isCrossDeviceErr(err) {
			referenceTask := task
			referenceTask.SrcPath = candidate

			if _, werr := e.writeRegularFile(context.Background(), rc, referenceTask, nil); werr != nil {
				return false, werr
			}

			if !existed {
				rc.RecordCreated(task.DstPath, engine.CreatedFile)
			}

			if err := meta.ApplyFile(task.DstPath, task.SrcSnap, e.Opts, e.ACL); err != nil {
				e.Logger.Warn("metadata apply failed", "path", task.DstPath, "error", err)
			}

			rc.Summary.RegularFilesMatched++
			rc.Touch()
			rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.DataCopied, WasCreated: !existed})

			return true, nil
		}

		return false, errs.NewIo("link", task.DstPath, err)
	}

	if !existed {
		rc.RecordCreated(task.DstPath, engine.CreatedHardlink)
	}

	rc.Summary.HardLinksCreated++
	rc.Touch()
	rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.HardLink})

	return true, nil
}

// tryReference resolves a match from the compare-dest/copy-dest/link-dest
// list (spec §4.4.1 step 4), handling all three reference kinds.
// Returns handled=true when the file is fully processed and CopyFile
// should return without falling through to a normal transfer.
func (e *Engine) tryReference(rc *engine.Context, task FileTask, size int64) (bool, error) {
	candidate, ref, ok, err := e.referenceMatch(task.RelPath, task.SrcPath, size, task.SrcSnap.Mtime)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, nil
	}

	switch ref.Kind {
	case option.ReferenceCompare:
		rc.Summary.RegularFilesMatched++
		rc.Touch()
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.MetadataReused})

		return true, nil

	case option.ReferenceLink:
		if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
			return false, err
		}

		existed := pathExists(task.DstPath)
		if existed {
			os.Remove(task.DstPath) //nolint:errcheck // replaced by the new link below
		}

		if err := os.Link(candidate, task.DstPath); err != nil {
			return false, errs.NewIo("link", task.DstPath, err)
		}

		if !existed {
			rc.RecordCreated(task.DstPath, engine.CreatedHardlink)
		}

		rc.Summary.HardLinksCreated++
		rc.Touch()
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.HardLink})

		return true, nil

	case option.ReferenceCopy:
		if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
			return false, err
		}

		existed := pathExists(task.DstPath)

		referenceTask := task
		referenceTask.SrcPath = candidate

		if _, err := e.writeRegularFile(context.Background(), rc, referenceTask, nil); err != nil {
			return false, err
		}

		if !existed {
			rc.RecordCreated(task.DstPath, engine.CreatedFile)
		}

		if err := meta.ApplyFile(task.DstPath, task.SrcSnap, e.Opts, e.ACL); err != nil {
			e.Logger.Warn("metadata apply failed", "path", task.DstPath, "error", err)
		}

		rc.Summary.RegularFilesMatched++
		rc.Touch()
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.DataCopied, WasCreated: !existed})

		return true, nil
	}

	return false, nil
}

// writeRegularFile picks append, in-place, or staged (whole-file/delta)
// writing and applies metadata once content lands (spec §4.4.6/§4.4.7).
// destInfo is the pre-overwrite destination lstat, or nil when none
// exists (already backed up or never present).
func (e *Engine) writeRegularFile(ctx context.Context, rc *engine.Context, task FileTask, destInfo os.FileInfo) (*writeOutcome, error) {
	out := &writeOutcome{}

	switch {
	case e.Opts.Append && destInfo != nil:
		if err := e.appendWrite(ctx, task, destInfo, out); err != nil {
			return nil, err
		}
	case e.Opts.Inplace:
		if err := e.inplaceWrite(ctx, task, destInfo, out); err != nil {
			return nil, err
		}
	default:
		guard, err := e.stagedWrite(ctx, task, destInfo, out)
		if err != nil {
			return nil, err
		}

		if err := e.commitGuard(rc, task, guard); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// appendWrite resumes a partial destination in place from its current
// length, optionally verifying the existing prefix byte-for-byte first.
func (e *Engine) appendWrite(ctx context.Context, task FileTask, destInfo os.FileInfo, out *writeOutcome) error {
	offset, ok := e.appendOffset(destInfo, task.SrcSnap.Size)
	if !ok {
		return e.inplaceWrite(ctx, task, destInfo, out)
	}

	if e.Opts.AppendVerify {
		equal, err := verifyAppendPrefix(task.SrcPath, task.DstPath, offset)
		if err != nil {
			return err
		}

		if !equal {
			return e.inplaceWrite(ctx, task, nil, out)
		}
	}

	src, err := os.Open(task.SrcPath)
	if err != nil {
		return errs.NewIo("open", task.SrcPath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(task.DstPath, os.O_WRONLY, 0o600)
	if err != nil {
		return errs.NewIo("open", task.DstPath, err)
	}
	defer dst.Close()

	if _, err := dst.Seek(offset, io.SeekStart); err != nil {
		return errs.NewIo("seek", task.DstPath, err)
	}

	if err := e.wholeFileCopy(ctx, src, dst, offset, task.RelPath, out); err != nil {
		return err
	}

	return e.finishDirectWrite(task, dst)
}

// inplaceWrite overwrites the destination directly: whole-file if no
// delta baseline exists or delta is disabled, otherwise a delta rebuild
// written back into the same file handle from the start.
func (e *Engine) inplaceWrite(ctx context.Context, task FileTask, destInfo os.FileInfo, out *writeOutcome) error {
	dst, err := os.OpenFile(task.DstPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return errs.NewIo("open", task.DstPath, err)
	}
	defer dst.Close()

	src, err := os.Open(task.SrcPath)
	if err != nil {
		return errs.NewIo("open", task.SrcPath, err)
	}
	defer src.Close()

	if e.Opts.DeltaEnabled() && destInfo != nil && destInfo.Size() > 0 {
		old, err := os.Open(task.DstPath)
		if err != nil {
			return errs.NewIo("open", task.DstPath, err)
		}
		defer old.Close()

		if err := e.deltaCopy(ctx, src, old, dst, destInfo.Size(), task.RelPath, out); err != nil {
			return err
		}
	} else if err := e.wholeFileCopy(ctx, src, dst, 0, task.RelPath, out); err != nil {
		return err
	}

	if err := dst.Truncate(task.SrcSnap.Size); err != nil {
		return errs.NewIo("truncate", task.DstPath, err)
	}

	return e.finishDirectWrite(task, dst)
}

// stagedWrite writes into a fresh temp or partial staging file (never
// the live destination), returning the open guard for the caller to
// commit once ready.
func (e *Engine) stagedWrite(ctx context.Context, task FileTask, destInfo os.FileInfo, out *writeOutcome) (*stage.Guard, error) {
	guard, err := e.newStagingGuard(task.DstPath)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(task.SrcPath)
	if err != nil {
		guard.Discard()
		return nil, errs.NewIo("open", task.SrcPath, err)
	}
	defer src.Close()

	if e.Opts.DeltaEnabled() && destInfo != nil && destInfo.Size() > 0 {
		old, err := os.Open(task.DstPath)
		if err != nil {
			guard.Discard()
			return nil, errs.NewIo("open", task.DstPath, err)
		}
		defer old.Close()

		if err := e.deltaCopy(ctx, src, old, guard.File(), destInfo.Size(), task.RelPath, out); err != nil {
			guard.Discard()
			return nil, err
		}
	} else if err := e.wholeFileCopy(ctx, src, guard.File(), 0, task.RelPath, out); err != nil {
		guard.Discard()
		return nil, err
	}

	return guard, nil
}

// commitGuard applies metadata and commits the staging guard immediately,
// or queues the commit on rc for end-of-run flushing under delay-updates
// (spec §4.4.7).
func (e *Engine) commitGuard(rc *engine.Context, task FileTask, guard *stage.Guard) error {
	if err := meta.ApplyFile(guard.TempPath(), task.SrcSnap, e.Opts, e.ACL); err != nil {
		e.Logger.Warn("metadata apply failed", "path", guard.TempPath(), "error", err)
	}

	if e.Opts.DelayUpdates {
		rc.QueueUpdate(&engine.DeferredUpdate{FinalPath: guard.FinalPath(), Commit: guard.Commit})
		return nil
	}

	return guard.Commit()
}

func (e *Engine) finishDirectWrite(task FileTask, f *os.File) error {
	if err := f.Sync(); err != nil {
		return errs.NewIo("sync", task.DstPath, err)
	}

	if err := meta.ApplyFile(task.DstPath, task.SrcSnap, e.Opts, e.ACL); err != nil {
		e.Logger.Warn("metadata apply failed", "path", task.DstPath, "error", err)
	}

	return nil
}
