package transfer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/option"
)

// linkDestMatch scans Options.LinkDests (spec §4.4.1 step 8), a
// degenerate reference list that only ever hard-links: a match never
// compares-only or copies, it always links. The first base directory
// whose relPath candidate compares equal to the source wins.
func (e *Engine) linkDestMatch(relPath, srcPath string, srcSize int64, srcMtime time.Time) (string, bool, error) {
	for _, base := range e.Opts.LinkDests {
		candidate := filepath.Join(base, relPath)

		info, err := os.Lstat(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return "", false, errs.NewIo("lstat", candidate, err)
		}

		if !info.Mode().IsRegular() {
			continue
		}

		equal, err := e.equalUnderComparison(candidate, info, srcPath, srcSize, srcMtime)
		if err != nil {
			return "", false, err
		}

		if equal {
			return candidate, true, nil
		}
	}

	return "", false, nil
}

// referenceMatch scans the configured compare-dest/copy-dest/link-dest
// directories, in the order given, for a regular file at relPath that
// compares equal to the source under the active comparison rule (spec
// §4.4.1 steps 8/10). The first match wins; later directories are never
// consulted once one succeeds.
func (e *Engine) referenceMatch(relPath, srcPath string, srcSize int64, srcMtime time.Time) (string, option.ReferenceDir, bool, error) {
	for _, ref := range e.Opts.References {
		candidate := filepath.Join(ref.Path, relPath)

		info, err := os.Lstat(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return "", option.ReferenceDir{}, false, errs.NewIo("lstat", candidate, err)
		}

		if !info.Mode().IsRegular() {
			continue
		}

		equal, err := e.equalUnderComparison(candidate, info, srcPath, srcSize, srcMtime)
		if err != nil {
			return "", option.ReferenceDir{}, false, err
		}

		if equal {
			return candidate, ref, true, nil
		}
	}

	return "", option.ReferenceDir{}, false, nil
}
