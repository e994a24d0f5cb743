package transfer

import (
	"os"
	"path/filepath"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/errs"
)

// DeletionDecider reports whether a destination-only entry may be
// removed. The traversal driver owns the filter engine and its
// per-directory dir-merge layer stack, so it supplies this rather than
// package transfer knowing anything about filter rules.
type DeletionDecider func(relPath string, isDir bool) bool

// SweepDirectory implements the per-directory half of spec §4.4.8: any
// entry in d.DestinationDir not named in d.KeepNames is a deletion
// candidate, subject to the decider and the run's max-deletions budget.
func (e *Engine) SweepDirectory(rc *engine.Context, d engine.DeferredDeletion, allowed DeletionDecider) error {
	entries, err := os.ReadDir(d.DestinationDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errs.NewIo("readdir", d.DestinationDir, err)
	}

	for _, ent := range entries {
		if d.KeepNames[ent.Name()] {
			continue
		}

		relPath := filepath.Join(d.RelativeDir, ent.Name())
		isDir := ent.IsDir()

		if allowed != nil && !allowed(relPath, isDir) {
			continue
		}

		if rc.DeletionLimitReached() {
			rc.NoteDeletionSkippedByLimit()
			continue
		}

		full := filepath.Join(d.DestinationDir, ent.Name())

		if err := deleteEntry(full, isDir); err != nil {
			return err
		}

		rc.Summary.ItemsDeleted++
		rc.Touch()
		rc.Emit(engine.Record{RelativePath: relPath, Action: engine.EntryDeleted})
	}

	return nil
}

func deleteEntry(path string, isDir bool) error {
	if isDir {
		if err := os.RemoveAll(path); err != nil {
			return errs.NewIo("remove directory", path, err)
		}

		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.NewIo("remove", path, err)
	}

	return nil
}
