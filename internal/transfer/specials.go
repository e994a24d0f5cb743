package transfer

import (
	"os"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/meta"
)

// TransferSymlink recreates a symlink entry (spec §4.3/§4.4). Under
// safe-links an unsafe link is skipped unless copy-unsafe-links is set, in
// which case it is recreated as a symlink like any other; its referent is
// not copied. relDir is the symlink's own directory relative to the
// destination tree root.
func (e *Engine) TransferSymlink(rc *engine.Context, task FileTask, relDir string) error {
	rc.Summary.SymlinksTotal++

	target := task.SrcSnap.LinkTarget

	safe := meta.SafeSymlinkTarget(e.DestRoot, relDir, target)
	if !safe && !e.Opts.CopyUnsafeLinks {
		if e.Opts.SafeLinks {
			rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SkippedUnsafeSymlink})
			return nil
		}
	}

	if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
		return err
	}

	if e.Opts.Backup {
		if err := e.backupExisting(task.RelPath, task.DstPath); err != nil {
			return err
		}
	}

	existed := pathExists(task.DstPath)

	if err := meta.CreateSymlink(target, task.DstPath); err != nil {
		return errs.NewIo("create symlink", task.DstPath, err)
	}

	if !existed {
		rc.RecordCreated(task.DstPath, engine.CreatedSymlink)
	}

	if err := meta.ApplySymlinkMeta(task.DstPath, task.SrcSnap, e.Opts); err != nil {
		e.Logger.Warn("symlink metadata apply failed", "path", task.DstPath, "error", err)
	}

	rc.Summary.SymlinksCopied++
	rc.Touch()
	rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SymlinkCopied, WasCreated: !existed})

	return nil
}

// TransferFifo materializes a FIFO at the destination.
func (e *Engine) TransferFifo(rc *engine.Context, task FileTask) error {
	rc.Summary.FifosTotal++

	if !e.Opts.Specials {
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SkippedNonRegular})
		return nil
	}

	if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
		return err
	}

	if e.Opts.Backup {
		if err := e.backupExisting(task.RelPath, task.DstPath); err != nil {
			return err
		}
	}

	existed := pathExists(task.DstPath)

	if err := meta.CreateFifo(task.DstPath, task.SrcSnap.Mode); err != nil {
		return errs.NewIo("create fifo", task.DstPath, err)
	}

	if !existed {
		rc.RecordCreated(task.DstPath, engine.CreatedFifo)
	}

	if err := meta.ApplyFile(task.DstPath, task.SrcSnap, e.Opts, e.ACL); err != nil {
		e.Logger.Warn("fifo metadata apply failed", "path", task.DstPath, "error", err)
	}

	rc.Summary.FifosCreated++
	rc.Touch()
	rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.FifoCopied, WasCreated: !existed})

	return nil
}

// TransferDevice materializes a character or block device node at the
// destination. Requires Options.Devices.
func (e *Engine) TransferDevice(rc *engine.Context, task FileTask) error {
	rc.Summary.DevicesTotal++

	if !e.Opts.Devices {
		rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.SkippedNonRegular})
		return nil
	}

	if err := ensureParentDir(task.DstPath, e.Opts); err != nil {
		return err
	}

	if e.Opts.Backup {
		if err := e.backupExisting(task.RelPath, task.DstPath); err != nil {
			return err
		}
	}

	existed := pathExists(task.DstPath)

	if err := meta.CreateDevice(task.DstPath, task.SrcSnap, task.SrcSnap.Mode); err != nil {
		return errs.NewIo("create device", task.DstPath, err)
	}

	if !existed {
		rc.RecordCreated(task.DstPath, engine.CreatedDevice)
	}

	if err := meta.ApplyFile(task.DstPath, task.SrcSnap, e.Opts, e.ACL); err != nil {
		e.Logger.Warn("device metadata apply failed", "path", task.DstPath, "error", err)
	}

	rc.Summary.DevicesCreated++
	rc.Touch()
	rc.Emit(engine.Record{RelativePath: task.RelPath, Action: engine.DeviceCopied, WasCreated: !existed})

	return nil
}

// EnsureDirectory creates the destination directory if absent and
// returns whether it was newly created; metadata is applied by the
// caller only after the directory's contents have been processed, since
// writing into it would otherwise disturb the just-applied mtime.
func (e *Engine) EnsureDirectory(rc *engine.Context, dstPath string) (bool, error) {
	rc.Summary.DirectoriesTotal++

	info, err := os.Lstat(dstPath)
	if err == nil {
		if info.IsDir() {
			return false, nil
		}

		if e.Opts.Backup {
			if err := e.backupExisting(e.relPath(dstPath), dstPath); err != nil {
				return false, err
			}
		} else if err := os.RemoveAll(dstPath); err != nil {
			return false, errs.NewIo("remove", dstPath, err)
		}
	} else if !os.IsNotExist(err) {
		return false, errs.NewIo("lstat", dstPath, err)
	}

	if err := os.Mkdir(dstPath, 0o777); err != nil {
		if os.IsExist(err) {
			return false, nil
		}

		return false, errs.NewIo("mkdir", dstPath, err)
	}

	rc.RecordCreated(dstPath, engine.CreatedDir)
	rc.Summary.DirectoriesCreated++

	return true, nil
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
