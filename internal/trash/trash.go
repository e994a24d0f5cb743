// Package trash computes backup destination paths and performs the
// existing-entry-preserving move of a live destination entry before it
// is overwritten or removed, generalized from a single fixed trash
// target to a configurable backup_dir/backup_suffix scheme.
package trash

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/tonimelisma/localsync/internal/errs"
)

// Path computes the backup destination for relPath (the entry's path
// relative to the destination root), given backupDir (empty means
// "alongside the original") and suffix (empty means the default "~").
func Path(destRoot, backupDir, suffix, relPath string) string {
	if suffix == "" {
		suffix = "~"
	}

	name := filepath.Base(relPath) + suffix

	if backupDir == "" {
		return filepath.Join(destRoot, filepath.Dir(relPath), name)
	}

	base := backupDir
	if !filepath.IsAbs(base) {
		base = filepath.Join(destRoot, base)
	}

	return filepath.Join(base, filepath.Dir(relPath), name)
}

// Move relocates existing (the live destination entry about to be
// overwritten or removed) to its computed backup path, applying three
// rename fallbacks: an already-existing backup is removed and the
// rename retried, a cross-device rename falls back to copy+unlink (or
// recreate, for symlinks), and a missing source is a benign noop.
func Move(existing, backupDest string) error {
	if err := os.MkdirAll(filepath.Dir(backupDest), 0o777); err != nil {
		return errs.NewIo("mkdir", filepath.Dir(backupDest), err)
	}

	err := os.Rename(existing, backupDest)
	if err == nil {
		return nil
	}

	if os.IsNotExist(err) {
		return nil
	}

	if os.IsExist(err) {
		if rerr := os.RemoveAll(backupDest); rerr != nil {
			return errs.NewIo("remove", backupDest, rerr)
		}

		if rerr := os.Rename(existing, backupDest); rerr != nil {
			return errs.NewIo("rename", existing, rerr)
		}

		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && isCrossDevice(linkErr.Err) {
		return copyAcross(existing, backupDest)
	}

	return errs.NewIo("rename", existing, err)
}

// copyAcross handles the CrossesDevices fallback: a plain file is
// copied then unlinked, a symlink is recreated by target then unlinked.
func copyAcross(existing, backupDest string) error {
	info, err := os.Lstat(existing)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errs.NewIo("lstat", existing, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, rerr := os.Readlink(existing)
		if rerr != nil {
			return errs.NewIo("readlink", existing, rerr)
		}

		if err := os.Symlink(target, backupDest); err != nil {
			return errs.NewIo("symlink", backupDest, err)
		}
	} else {
		if err := copyFile(existing, backupDest, info.Mode()); err != nil {
			return err
		}
	}

	if err := os.Remove(existing); err != nil && !os.IsNotExist(err) {
		return errs.NewIo("remove", existing, err)
	}

	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.NewIo("open", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return errs.NewIo("create", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return errs.NewIo("copy", dst, err)
	}

	if err := out.Close(); err != nil {
		return errs.NewIo("close", dst, err)
	}

	return nil
}

// CollisionFreeName appends a Finder-style numeric suffix (" 2", " 3", …)
// to name until it no longer collides with an entry in dir, for the case
// where a backup destination's parent is shared across an entire run
// rather than freshly created per entry.
func CollisionFreeName(dir, name string) (string, error) {
	dest := filepath.Join(dir, name)

	if _, err := os.Stat(dest); err != nil {
		if os.IsNotExist(err) {
			return dest, nil
		}

		return "", errs.NewIo("stat", dest, err)
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]

	for i := 2; ; i++ {
		candidate := filepath.Join(dir, stem+" "+strconv.Itoa(i)+ext)

		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}

		if err != nil {
			return "", errs.NewIo("stat", candidate, err)
		}
	}
}

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
