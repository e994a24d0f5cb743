package meta

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateFifo materializes a FIFO at dst with the given permission bits,
// removing any pre-existing entry first.
func CreateFifo(dst string, perm os.FileMode) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("meta: remove existing %q: %w", dst, err)
	}

	if err := unix.Mkfifo(dst, uint32(perm.Perm())); err != nil {
		return fmt.Errorf("meta: mkfifo %q: %w", dst, err)
	}

	return nil
}

// CreateDevice materializes a character or block device node at dst from
// a captured Rdev, requiring the process to hold sufficient privilege.
func CreateDevice(dst string, snap Snapshot, perm os.FileMode) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("meta: remove existing %q: %w", dst, err)
	}

	mode := uint32(perm.Perm())
	if snap.Mode&os.ModeCharDevice != 0 {
		mode |= unix.S_IFCHR
	} else {
		mode |= unix.S_IFBLK
	}

	if err := unix.Mknod(dst, mode, int(snap.Rdev)); err != nil {
		return fmt.Errorf("meta: mknod %q: %w", dst, err)
	}

	return nil
}
