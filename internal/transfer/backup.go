package transfer

import (
	"os"
	"path/filepath"

	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/trash"
)

// backupExisting moves the live destination entry at dstPath to its
// computed backup location, if one exists, before it is overwritten or
// removed (spec §4.4.4). A missing entry is a silent no-op.
//
// When the computed backup path already holds a file this run didn't
// itself put there, that file is somebody else's data (a backup from a
// previous run, or an unrelated entry that happens to collide with the
// suffix scheme) — it is preserved by giving the new backup a Finder-
// style numeric-suffixed name instead (SPEC_FULL.md §9 note 2) rather
// than silently clobbering it via trash.Move's plain overwrite fallback.
// A path this run already backed up to is fair game for that plain
// overwrite, since that's just the documented AlreadyExists retry.
func (e *Engine) backupExisting(relPath, dstPath string) error {
	if _, err := os.Lstat(dstPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errs.NewIo("lstat", dstPath, err)
	}

	backupDest := trash.Path(e.DestRoot, e.Opts.BackupDir, e.Opts.BackupSuffix, relPath)

	if _, owned := e.backupsOwned[backupDest]; !owned {
		if _, err := os.Lstat(backupDest); err == nil {
			unique, cerr := trash.CollisionFreeName(filepath.Dir(backupDest), filepath.Base(backupDest))
			if cerr != nil {
				return cerr
			}

			backupDest = unique
		} else if !os.IsNotExist(err) {
			return errs.NewIo("lstat", backupDest, err)
		}
	}

	if err := trash.Move(dstPath, backupDest); err != nil {
		return err
	}

	if e.backupsOwned == nil {
		e.backupsOwned = make(map[string]struct{})
	}

	e.backupsOwned[backupDest] = struct{}{}

	return nil
}
