package meta

import (
	"os"
	"path/filepath"
	"strings"
)

// SafeSymlinkTarget reports whether target, found inside a tree rooted
// at root at relDir (the symlink's own directory relative to root), can
// be recreated at the destination without resolving outside root. An
// absolute or empty target is always unsafe; a relative target is unsafe
// if walking its ".." components from relDir would leave root. Whether an
// unsafe link is skipped is up to the caller.
func SafeSymlinkTarget(root, relDir, target string) bool {
	if target == "" {
		return false
	}

	if filepath.IsAbs(target) {
		return false
	}

	joined := filepath.Join(root, relDir, target)

	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return false
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return true
}

// CreateSymlink recreates a symlink at dst pointing at target, replacing
// any existing entry at dst first since os.Symlink fails if dst exists.
func CreateSymlink(target, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}

	return os.Symlink(target, dst)
}
