// Package meta applies captured source metadata to a destination path:
// permissions, times, ownership, chmod overrides, xattrs, ACLs, and the
// non-regular-file kinds (symlinks, FIFOs, device nodes). Metadata is
// applied in a fixed order: file metadata, then xattrs, then ACLs.
package meta

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pkg/xattr"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/tonimelisma/localsync/internal/option"
)

// ErrUnsupportedMetadata is returned by backends with no implementation
// for the requested platform/feature, notably ACLs (see DESIGN.md).
var ErrUnsupportedMetadata = errors.New("meta: unsupported on this backend")

// Kind classifies the entry a Snapshot was captured from.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindFifo
	KindDevice
)

// Snapshot is the captured source metadata applied to a destination
// after content is committed.
type Snapshot struct {
	Kind       Kind
	Mode       os.FileMode
	UID, GID   int
	Mtime      time.Time
	LinkTarget string            // valid when Kind == KindSymlink
	Rdev       uint64            // valid when Kind == KindDevice
	Xattrs     map[string][]byte
	Size       int64
	Dev        uint64 // device ID, for one-file-system and hard-link tracking
	Ino        uint64 // inode number, for hard-link tracking
	Nlink      uint64 // hard-link count on the source
}

// Capture reads path's metadata via Lstat (never following the final
// symlink component) plus, when requested, its xattrs.
func Capture(path string, wantXattrs bool) (Snapshot, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("meta: lstat %q: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		return Snapshot{}, fmt.Errorf("meta: stat %q: %w", path, err)
	}

	s := Snapshot{
		Mode:  info.Mode(),
		UID:   int(stat.Uid),
		GID:   int(stat.Gid),
		Mtime: info.ModTime(),
		Rdev:  uint64(stat.Rdev), //nolint:unconvert // Rdev width varies by GOARCH
		Size:  info.Size(),
		Dev:   uint64(stat.Dev),  //nolint:unconvert // Dev width varies by GOARCH
		Ino:   stat.Ino,
		Nlink: uint64(stat.Nlink), //nolint:unconvert // Nlink width varies by GOARCH
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		s.Kind = KindSymlink

		target, lerr := os.Readlink(path)
		if lerr != nil {
			return Snapshot{}, fmt.Errorf("meta: readlink %q: %w", path, lerr)
		}

		s.LinkTarget = target
	case info.Mode()&os.ModeDir != 0:
		s.Kind = KindDir
	case info.Mode()&os.ModeNamedPipe != 0:
		s.Kind = KindFifo
	case info.Mode()&(os.ModeDevice|os.ModeCharDevice) != 0:
		s.Kind = KindDevice
	default:
		s.Kind = KindFile
	}

	if wantXattrs && s.Kind != KindSymlink {
		names, xerr := xattr.List(path)
		if xerr != nil && !errors.Is(xerr, xattr.ENOATTR) {
			return s, fmt.Errorf("meta: list xattrs %q: %w", path, xerr)
		}

		if len(names) > 0 {
			s.Xattrs = make(map[string][]byte, len(names))

			for _, n := range names {
				v, gerr := xattr.Get(path, n)
				if gerr != nil {
					continue
				}

				s.Xattrs[n] = v
			}
		}
	}

	return s, nil
}

// ACLApplier applies an ACL to path from a captured snapshot. See
// DESIGN.md: no ACL library exists anywhere in the retrieval pack, so the
// only implementation available is noopACLApplier.
type ACLApplier interface {
	Apply(path string, snap Snapshot) error
}

type noopACLApplier struct{}

func (noopACLApplier) Apply(string, Snapshot) error { return ErrUnsupportedMetadata }

// DefaultACLApplier is the stub backend used unless a caller supplies its
// own ACLApplier.
var DefaultACLApplier ACLApplier = noopACLApplier{}

// ApplyFile applies file metadata (permissions, times, owner/group,
// chmod overrides), then xattrs, then ACLs, in that fixed order.
// Non-fatal xattr/ACL failures are combined into one wrapped error via
// multierr rather than dropped or aborting early.
func ApplyFile(path string, snap Snapshot, opts option.Options, acl ACLApplier) error {
	var errs error

	if opts.Perms {
		mode := opts.Chmod.File.Apply(uint32(snap.Mode.Perm()))
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chmod %q: %w", path, err))
		}
	}

	if opts.Owner || opts.Group {
		uid, gid := resolveOwnership(snap, opts)
		if err := os.Chown(path, uid, gid); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chown %q: %w", path, err))
		}
	}

	if opts.Times {
		if err := os.Chtimes(path, time.Now(), snap.Mtime); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chtimes %q: %w", path, err))
		}
	}

	if opts.Xattrs {
		for name, value := range snap.Xattrs {
			if err := xattr.Set(path, name, value); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("setxattr %q %s: %w", path, name, err))
			}
		}
	}

	if opts.ACLs {
		if err := acl.Apply(path, snap); err != nil && !errors.Is(err, ErrUnsupportedMetadata) {
			errs = multierr.Append(errs, fmt.Errorf("acl %q: %w", path, err))
		}
	}

	return errs
}

// ApplyDir applies directory metadata, honoring omit-dir-times and the
// directory (`D…`) chmod rule.
func ApplyDir(path string, snap Snapshot, opts option.Options, acl ACLApplier) error {
	if opts.OmitDirTimes {
		opts.Times = false
	}

	// ApplyFile reads Chmod.File; a directory takes the Dir rule instead.
	opts.Chmod.File = opts.Chmod.Dir

	return ApplyFile(path, snap, opts, acl)
}

// ApplySymlinkMeta applies symlink-applicable metadata only: ownership and,
// unless omit-link-times is set, times. Permissions on a symlink are not
// meaningful on most platforms and are skipped.
func ApplySymlinkMeta(path string, snap Snapshot, opts option.Options) error {
	var errs error

	if opts.Owner || opts.Group {
		uid, gid := resolveOwnership(snap, opts)
		if err := unix.Lchown(path, uid, gid); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lchown %q: %w", path, err))
		}
	}

	if opts.Times && !opts.OmitLinkTimes {
		ts := []unix.Timespec{
			unix.NsecToTimespec(time.Now().UnixNano()),
			unix.NsecToTimespec(snap.Mtime.UnixNano()),
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lutimes %q: %w", path, err))
		}
	}

	return errs
}

func resolveOwnership(snap Snapshot, opts option.Options) (uid, gid int) {
	uid, gid = snap.UID, snap.GID

	if opts.ChownUID != nil {
		uid = *opts.ChownUID
	}

	if opts.ChownGID != nil {
		gid = *opts.ChownGID
	}

	if !opts.Owner {
		uid = -1
	}

	if !opts.Group {
		gid = -1
	}

	return uid, gid
}
