// Package option defines the flat behavioural-switch record that every
// other engine component reads from, plus small derived-query helpers that
// keep invariant resolution in one place instead of scattered across
// call sites.
package option

import "time"

// DeleteTiming selects when the deletion sweep runs relative to transfers
// within a directory.
type DeleteTiming int

const (
	DeleteTimingNone DeleteTiming = iota
	DeleteTimingBefore
	DeleteTimingDuring
	DeleteTimingDelay
	DeleteTimingAfter
)

// ReferenceKind selects how a reference directory candidate is used when it
// matches the source under comparison.
type ReferenceKind int

const (
	ReferenceCompare ReferenceKind = iota
	ReferenceCopy
	ReferenceLink
)

// ReferenceDir is one entry of the --compare-dest/--copy-dest/--link-dest list.
type ReferenceDir struct {
	Path string
	Kind ReferenceKind
}

// ChmodModifiers holds the parsed effect of a --chmod argument, split by
// target kind because rsync's `F…`/`D…` prefixes apply independently to
// files and directories (spec note: preserve this split exactly).
type ChmodModifiers struct {
	File ChmodRule
	Dir  ChmodRule
}

// ChmodRule is an additive/subtractive permission-bit adjustment, the same
// shape `chmod ugo+-=rwx` uses.
type ChmodRule struct {
	// AddMask / ClearMask are applied as: mode = (mode &^ ClearMask) | AddMask.
	AddMask   uint32
	ClearMask uint32
	set       bool
}

// NewChmodRule builds an active ChmodRule from the given add/clear masks.
// Callers outside this package must go through this constructor: the zero
// value of ChmodRule is deliberately inert so an unset --chmod is a no-op.
func NewChmodRule(addMask, clearMask uint32) ChmodRule {
	return ChmodRule{AddMask: addMask, ClearMask: clearMask, set: true}
}

// Merge combines r with other, keeping both sides' bit adjustments. The
// result is active if either side was.
func (r ChmodRule) Merge(other ChmodRule) ChmodRule {
	return ChmodRule{
		AddMask:   r.AddMask | other.AddMask,
		ClearMask: r.ClearMask | other.ClearMask,
		set:       r.set || other.set,
	}
}

// Apply adjusts mode per the rule. A zero-value ChmodRule is a no-op.
func (r ChmodRule) Apply(mode uint32) uint32 {
	if !r.set {
		return mode
	}

	return (mode &^ r.ClearMask) | r.AddMask
}

// Options is the aggregate behavioural-switch record. Every field mirrors
// one entry from the option catalogue; callers populate it (typically the
// CLI layer) and pass it down unmodified to every engine component.
type Options struct {
	// Transfer control.
	Delete             bool
	DeleteTiming        DeleteTiming
	DeleteExcluded      bool
	MaxDeletions        int // 0 = unlimited
	RemoveSourceFiles   bool
	IgnoreExisting      bool
	IgnoreMissingArgs   bool
	Update              bool
	ModifyWindow        time.Duration
	SizeOnly            bool
	ChecksumAlgorithm   string // "" disables checksum mode

	// Traversal.
	RelativePaths    bool
	ImpliedDirs      bool
	Mkpath           bool
	OneFileSystem    bool
	PruneEmptyDirs   bool
	CopyLinks        bool
	CopyDirlinks     bool
	CopyUnsafeLinks  bool
	KeepDirlinks     bool
	SafeLinks        bool
	Devices          bool
	Specials         bool

	// Transfer payload.
	WholeFile         bool // default true; false enables delta
	Inplace           bool
	Append            bool
	AppendVerify      bool
	Partial           bool
	PartialDir        string
	TempDir           string
	DelayUpdates      bool
	Sparse            bool
	Preallocate       bool
	Compress          bool
	CompressionLevel  int  // per-run default
	CompressionOverride *int // explicit override, wins if set
	SkipCompress      []string // extensions, without leading dot
	MinSize           int64
	MaxSize           int64 // 0 = unlimited
	BandwidthLimit    int64 // bytes/sec, 0 = unlimited
	BandwidthBurst    int64
	Timeout           time.Duration

	// Metadata.
	Perms         bool
	Times         bool
	Owner         bool
	Group         bool
	ChownUID      *int
	ChownGID      *int
	Chmod         ChmodModifiers
	NumericIDs    bool
	OmitDirTimes  bool
	OmitLinkTimes bool
	Xattrs        bool
	ACLs          bool
	HardLinks     bool

	// Backups.
	Backup       bool
	BackupDir    string
	BackupSuffix string

	// Filters.
	FilterRules []string // raw filter-program source lines, compiled by internal/filter
	LinkDests   []string
	References  []ReferenceDir

	// Observability.
	CollectEvents bool
}

// Normalize applies the documented switch-implication invariants (one
// switch implying another) and returns the adjusted copy. Call this once
// after parsing and before constructing a Plan.
func (o Options) Normalize() Options {
	if o.DeleteTiming != DeleteTimingNone {
		o.Delete = true
	}

	if o.PartialDir != "" || o.DelayUpdates {
		o.Partial = true
	}

	if o.AppendVerify {
		o.Append = true
	}

	if o.BackupDir != "" || o.BackupSuffix != "" {
		o.Backup = true
	}

	if o.BackupSuffix == "" {
		o.BackupSuffix = "~"
	}

	return o
}

// EffectiveCompressionLevel resolves the per-file override against the
// per-run default: an explicit override always wins.
func (o Options) EffectiveCompressionLevel() int {
	if o.CompressionOverride != nil {
		return *o.CompressionOverride
	}

	return o.CompressionLevel
}

// SkipsCompression reports whether ext (an extension without its leading
// dot) appears in the skip-compress list.
func (o Options) SkipsCompression(ext string) bool {
	for _, s := range o.SkipCompress {
		if s == ext {
			return true
		}
	}

	return false
}

// DeltaEnabled reports whether the delta-signature matcher should be
// used instead of a whole-file copy.
func (o Options) DeltaEnabled() bool {
	return !o.WholeFile && !o.Inplace
}
