// Package transfer implements the per-file decision machine (spec
// §4.4.1-4.4.8): skip, metadata-reuse, hard-link, link-dest,
// reference-dir, append, in-place, staged write, delta-patch. It is the
// single caller of package stage (staging lifecycle), package delta
// (block matching), package compress/bandwidth (payload collaborators),
// and package trash (backup moves). It also applies file metadata through
// package meta, which the traversal driver uses for capture and directory
// metadata.
package transfer

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/localsync/internal/bandwidth"
	"github.com/tonimelisma/localsync/internal/checksum"
	"github.com/tonimelisma/localsync/internal/meta"
	"github.com/tonimelisma/localsync/internal/option"
)

// Engine dispatches the file-transfer decision machine for one run. It
// holds no per-file state; everything that varies per entry is either a
// parameter or lives in the engine.Context passed in.
type Engine struct {
	Opts     option.Options
	Logger   *slog.Logger
	ACL      meta.ACLApplier
	DestRoot string // destination tree root, for backup-path and safe-symlink computation
	limiter  *bandwidth.Limiter

	// backupsOwned records every backup destination this run has already
	// moved an entry to, so a later collision against that same path is
	// treated as the documented AlreadyExists retry rather than triggering
	// another round of collision-free renaming (see backupExisting).
	backupsOwned map[string]struct{}
}

// NewEngine builds a transfer Engine for one run's Options against the
// given destination tree root.
func NewEngine(opts option.Options, destRoot string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		Opts:     opts,
		Logger:   logger,
		ACL:      meta.DefaultACLApplier,
		DestRoot: destRoot,
		limiter:  bandwidth.New(opts.BandwidthLimit, opts.BandwidthBurst),
	}
}

// checksumAlgorithm resolves the strong-digest algorithm used for both
// checksum-mode comparisons and delta signature matching: the option's
// named choice, or MD5 by default.
func (e *Engine) checksumAlgorithm() checksum.Algorithm {
	switch e.Opts.ChecksumAlgorithm {
	case "md4":
		return checksum.MD4
	case "xxhash64":
		return checksum.XXHash64
	case "xxhash3":
		return checksum.XXHash3
	case "xxhash3-128":
		return checksum.XXHash3_128
	default:
		return checksum.MD5
	}
}

// relPath reports dst's path relative to the destination tree root, for
// backup-path computation when a caller only has an absolute path on
// hand (directory creation, not a FileTask).
func (e *Engine) relPath(dst string) string {
	rel, err := filepath.Rel(e.DestRoot, dst)
	if err != nil {
		return filepath.Base(dst)
	}

	return rel
}

// existingDestInfo lstats dst, returning (nil, nil) when it is absent.
func existingDestInfo(dst string) (os.FileInfo, error) {
	info, err := os.Lstat(dst)
	if err == nil {
		return info, nil
	}

	if os.IsNotExist(err) {
		return nil, nil
	}

	return nil, err
}
