package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/config"
	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/filter"
	"github.com/tonimelisma/localsync/internal/operand"
	"github.com/tonimelisma/localsync/internal/option"
	"github.com/tonimelisma/localsync/internal/transfer"
	"github.com/tonimelisma/localsync/internal/walk"
)

// version is set at build time via ldflags.
var version = "dev"

// cliFlags holds every command-line switch, bound in newRootCmd and
// translated into option.Options in buildOptions.
type cliFlags struct {
	configPath string

	delete         bool
	deleteBefore   bool
	deleteDuring   bool
	deleteDelay    bool
	deleteAfter    bool
	deleteExcluded bool
	maxDeletions   int

	removeSourceFiles bool
	ignoreExisting    bool
	ignoreMissingArgs bool
	update            bool
	modifyWindow      time.Duration
	sizeOnly          bool
	checksum          string

	relative       bool
	noImpliedDirs  bool
	mkpath         bool
	oneFileSystem  bool
	pruneEmptyDirs bool
	copyLinks      bool
	copyDirlinks   bool
	copyUnsafeLinks bool
	keepDirlinks   bool
	safeLinks      bool
	devices        bool
	specials       bool

	noWholeFile  bool
	inplace      bool
	appendMode   bool
	appendVerify bool
	partial      bool
	partialDir   string
	tempDir      string
	delayUpdates bool
	sparse       bool
	preallocate  bool
	compress     bool
	compressLevel int
	skipCompress []string
	minSize      int64
	maxSize      int64
	bwlimit      int64
	timeout      time.Duration

	perms         bool
	times         bool
	owner         bool
	group         bool
	numericIDs    bool
	omitDirTimes  bool
	omitLinkTimes bool
	xattrs        bool
	acls          bool
	hardLinks     bool
	chmod         string

	backup       bool
	backupDir    string
	suffix       string

	includes     []string
	excludes     []string
	filters      []string
	includeFrom  []string
	excludeFrom  []string
	cvsExclude   bool

	linkDest    []string
	compareDest []string
	copyDest    []string

	collectEvents bool
	stats         bool
	quiet         bool
	verbose       bool
	debug         bool
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	cmd := &cobra.Command{
		Use:           "localsync SRC... DEST",
		Short:         "Local filesystem synchronization engine",
		Long:          "A local, rsync-compatible file synchronization engine: no network transport, one filesystem tree copied into another.",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, f, args)
		},
	}

	bindFlags(cmd, f)

	return cmd
}

func bindFlags(cmd *cobra.Command, f *cliFlags) {
	flags := cmd.Flags()

	flags.StringVar(&f.configPath, "config", "", "defaults file path (TOML)")

	flags.BoolVar(&f.delete, "delete", false, "delete extraneous destination entries")
	flags.BoolVar(&f.deleteBefore, "delete-before", false, "delete before transferring (implies --delete)")
	flags.BoolVar(&f.deleteDuring, "delete-during", false, "delete during traversal (implies --delete)")
	flags.BoolVar(&f.deleteDelay, "delete-delay", false, "delete after each source tree finishes (implies --delete)")
	flags.BoolVar(&f.deleteAfter, "delete-after", false, "delete after every source finishes (implies --delete)")
	flags.BoolVar(&f.deleteExcluded, "delete-excluded", false, "also delete destination entries excluded by filters")
	flags.IntVar(&f.maxDeletions, "max-delete", 0, "skip deletions past this count (0 = unlimited)")

	flags.BoolVar(&f.removeSourceFiles, "remove-source-files", false, "remove synchronized source files")
	flags.BoolVar(&f.ignoreExisting, "ignore-existing", false, "skip entries already present at the destination")
	flags.BoolVar(&f.ignoreMissingArgs, "ignore-missing-args", false, "ignore missing source operands")
	flags.BoolVarP(&f.update, "update", "u", false, "skip destination files newer than the source")
	flags.DurationVar(&f.modifyWindow, "modify-window", 0, "mtime comparison slack")
	flags.BoolVar(&f.sizeOnly, "size-only", false, "compare by size only, ignore mtime")
	flags.StringVar(&f.checksum, "checksum-choice", "", "strong checksum algorithm: md4, md5, xxhash64, xxhash3, xxhash3-128")

	flags.BoolVarP(&f.relative, "relative", "R", false, "preserve full source path under the destination")
	flags.BoolVar(&f.noImpliedDirs, "no-implied-dirs", false, "don't create implied destination directories")
	flags.BoolVar(&f.mkpath, "mkpath", false, "create the destination path if it doesn't exist")
	flags.BoolVarP(&f.oneFileSystem, "one-file-system", "x", false, "don't cross filesystem boundaries")
	flags.BoolVarP(&f.pruneEmptyDirs, "prune-empty-dirs", "m", false, "don't create directories that end up empty")
	flags.BoolVarP(&f.copyLinks, "copy-links", "L", false, "follow symlinks, transferring their referents")
	flags.BoolVar(&f.copyDirlinks, "copy-dirlinks", false, "follow symlinks to directories on the source side")
	flags.BoolVar(&f.copyUnsafeLinks, "copy-unsafe-links", false, "keep symlinks that --safe-links would skip, recreated as links (their referents are not copied)")
	flags.BoolVar(&f.keepDirlinks, "keep-dirlinks", false, "treat a destination symlink to a directory as the directory")
	flags.BoolVar(&f.safeLinks, "safe-links", false, "skip symlinks that point outside the destination tree")
	flags.BoolVar(&f.devices, "devices", false, "recreate device files")
	flags.BoolVar(&f.specials, "specials", false, "recreate FIFOs and other special files")

	flags.BoolVar(&f.noWholeFile, "no-whole-file", false, "use the delta-transfer algorithm instead of whole-file copies")
	flags.BoolVar(&f.inplace, "inplace", false, "write updates directly to the destination file")
	flags.BoolVar(&f.appendMode, "append", false, "resume a partial destination file from its current length")
	flags.BoolVar(&f.appendVerify, "append-verify", false, "like --append, but verify the existing prefix first")
	flags.BoolVar(&f.partial, "partial", false, "keep partially transferred files")
	flags.StringVar(&f.partialDir, "partial-dir", "", "store partial files in this directory instead of in place")
	flags.StringVar(&f.tempDir, "temp-dir", "", "use this directory for temporary staging files")
	flags.BoolVar(&f.delayUpdates, "delay-updates", false, "stage all updates, commit them at the very end")
	flags.BoolVar(&f.sparse, "sparse", false, "create sparse destination files efficiently")
	flags.BoolVar(&f.preallocate, "preallocate", false, "preallocate destination file space before writing")
	flags.BoolVarP(&f.compress, "compress", "z", false, "measure compressed transfer size for --stats (files are written uncompressed)")
	flags.IntVar(&f.compressLevel, "compress-level", 0, "explicit compression level override")
	flags.StringSliceVar(&f.skipCompress, "skip-compress", nil, "file suffixes to never compress")
	flags.Int64Var(&f.minSize, "min-size", 0, "skip files smaller than this many bytes")
	flags.Int64Var(&f.maxSize, "max-size", 0, "skip files larger than this many bytes")
	flags.Int64Var(&f.bwlimit, "bwlimit", 0, "bandwidth limit in bytes/sec (0 = unlimited)")
	flags.DurationVar(&f.timeout, "timeout", 0, "abort after this long without progress")

	flags.BoolVarP(&f.perms, "perms", "p", false, "preserve permissions")
	flags.BoolVarP(&f.times, "times", "t", false, "preserve modification times")
	flags.BoolVarP(&f.owner, "owner", "o", false, "preserve owner")
	flags.BoolVarP(&f.group, "group", "g", false, "preserve group")
	flags.BoolVar(&f.numericIDs, "numeric-ids", false, "don't map uid/gid values by name")
	flags.BoolVar(&f.omitDirTimes, "omit-dir-times", false, "don't preserve directory modification times")
	flags.BoolVar(&f.omitLinkTimes, "omit-link-times", false, "don't preserve symlink modification times")
	flags.BoolVarP(&f.xattrs, "xattrs", "X", false, "preserve extended attributes")
	flags.BoolVar(&f.acls, "acls", false, "preserve ACLs")
	flags.BoolVar(&f.hardLinks, "hard-links", false, "preserve hard links")
	flags.StringVar(&f.chmod, "chmod", "", "apply chmod-style permission modifiers (F.../D... prefixes)")

	flags.BoolVarP(&f.backup, "backup", "b", false, "make backups of replaced/deleted destination entries")
	flags.StringVar(&f.backupDir, "backup-dir", "", "store backups in this directory instead of in place")
	flags.StringVar(&f.suffix, "suffix", "", "backup filename suffix (default ~)")

	flags.StringArrayVar(&f.includes, "include", nil, "include matching entries (repeatable)")
	flags.StringArrayVar(&f.excludes, "exclude", nil, "exclude matching entries (repeatable)")
	flags.StringArrayVar(&f.filters, "filter", nil, "raw filter rule, rsync syntax (repeatable)")
	flags.StringArrayVar(&f.includeFrom, "include-from", nil, "read include patterns from a file (repeatable)")
	flags.StringArrayVar(&f.excludeFrom, "exclude-from", nil, "read exclude patterns from a file (repeatable)")
	flags.BoolVarP(&f.cvsExclude, "cvs-exclude", "C", false, "exclude CVS-ish files, honoring .cvsignore")

	flags.StringArrayVar(&f.linkDest, "link-dest", nil, "hard-link to unchanged files under this directory (repeatable)")
	flags.StringArrayVar(&f.compareDest, "compare-dest", nil, "compare against unchanged files under this directory (repeatable)")
	flags.StringArrayVar(&f.copyDest, "copy-dest", nil, "copy unchanged files from this directory instead of the source (repeatable)")

	flags.BoolVar(&f.collectEvents, "events", false, "retain per-entry event records for the run")
	flags.BoolVar(&f.stats, "stats", false, "print a transfer summary when the run finishes")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "suppress informational output")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "show detailed output")
	flags.BoolVar(&f.debug, "debug", false, "enable debug logging")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")
	cmd.MarkFlagsMutuallyExclusive("delete-before", "delete-during", "delete-delay", "delete-after")
}

// runSync resolves flags and defaults into Options, builds the plan and
// collaborators, and runs the traversal driver.
func runSync(cmd *cobra.Command, f *cliFlags, args []string) error {
	logger := buildLogger(f)

	defaults, err := config.LoadOrDefault(f.configPath, logger)
	if err != nil {
		return err
	}

	opts, err := buildOptions(f, defaults)
	if err != nil {
		return err
	}

	plan, err := operand.Parse(args)
	if err != nil {
		return err
	}

	filterEngine, err := filter.New(opts.FilterRules, logger)
	if err != nil {
		return err
	}

	rc := engine.New(opts, logger)
	xfer := transfer.NewEngine(opts, plan.Destination.Path, logger)
	driver := walk.New(opts, filterEngine, xfer, rc)

	if f.verbose && !f.quiet {
		rc.Ledger = newVerboseLedger(rc.Ledger, cmd.OutOrStdout())
	}

	ctx := shutdownContext(cmd.Context(), logger)

	started := time.Now()
	statusf(f.quiet, "localsync: starting at %s\n", formatTime(started))

	runErr := driver.Run(ctx, plan, plan.Destination.Path)

	var timeoutErr *errs.Timeout
	if errors.As(runErr, &timeoutErr) {
		rc.Rollback()
	}

	statusf(f.quiet, "localsync: finished at %s (elapsed %s)\n", formatTime(time.Now()), time.Since(started).Round(time.Millisecond))

	if f.stats {
		rc.Summary.Render(cmd.OutOrStdout(), isatty.IsTerminal(os.Stdout.Fd()))

		if records := rc.Ledger.Records(); len(records) > 0 {
			printTable(cmd.OutOrStdout(), []string{"Action", "Count"}, actionBreakdown(records))
		}
	}

	return runErr
}

// buildOptions folds the config-file defaults and CLI flags into one
// Options value, CLI flags always winning, then applies the documented
// switch-implication invariants.
func buildOptions(f *cliFlags, defaults *config.Defaults) (option.Options, error) {
	opts := defaults.Apply(option.Options{})

	opts.Delete = opts.Delete || f.delete
	opts.DeleteTiming = resolveDeleteTiming(f)
	opts.DeleteExcluded = opts.DeleteExcluded || f.deleteExcluded
	if f.maxDeletions != 0 {
		opts.MaxDeletions = f.maxDeletions
	}

	opts.RemoveSourceFiles = f.removeSourceFiles
	opts.IgnoreExisting = opts.IgnoreExisting || f.ignoreExisting
	opts.IgnoreMissingArgs = f.ignoreMissingArgs
	opts.Update = opts.Update || f.update
	if f.modifyWindow != 0 {
		opts.ModifyWindow = f.modifyWindow
	}
	opts.SizeOnly = opts.SizeOnly || f.sizeOnly
	if f.checksum != "" {
		opts.ChecksumAlgorithm = f.checksum
	}

	opts.RelativePaths = f.relative
	opts.ImpliedDirs = !f.noImpliedDirs
	opts.Mkpath = f.mkpath
	opts.OneFileSystem = opts.OneFileSystem || f.oneFileSystem
	opts.PruneEmptyDirs = opts.PruneEmptyDirs || f.pruneEmptyDirs
	opts.CopyLinks = opts.CopyLinks || f.copyLinks
	opts.CopyDirlinks = f.copyDirlinks
	opts.CopyUnsafeLinks = f.copyUnsafeLinks
	opts.KeepDirlinks = f.keepDirlinks
	opts.SafeLinks = opts.SafeLinks || f.safeLinks
	opts.Devices = opts.Devices || f.devices
	opts.Specials = opts.Specials || f.specials

	opts.WholeFile = !f.noWholeFile
	if !opts.WholeFile {
		opts.WholeFile = false
	} else if defaults.WholeFile != nil {
		opts.WholeFile = *defaults.WholeFile && !f.noWholeFile
	}
	opts.Inplace = f.inplace
	opts.Append = f.appendMode
	opts.AppendVerify = f.appendVerify
	opts.Partial = opts.Partial || f.partial
	if f.partialDir != "" {
		opts.PartialDir = f.partialDir
	}
	opts.TempDir = f.tempDir
	opts.DelayUpdates = f.delayUpdates
	opts.Sparse = f.sparse
	opts.Preallocate = f.preallocate
	opts.Compress = opts.Compress || f.compress
	if f.compressLevel != 0 {
		opts.CompressionLevel = f.compressLevel
	}
	if len(f.skipCompress) > 0 {
		opts.SkipCompress = f.skipCompress
	}
	opts.MinSize = f.minSize
	opts.MaxSize = f.maxSize
	if f.bwlimit != 0 {
		opts.BandwidthLimit = f.bwlimit
	}
	if f.timeout != 0 {
		opts.Timeout = f.timeout
	}

	opts.Perms = opts.Perms || f.perms
	opts.Times = opts.Times || f.times
	opts.Owner = opts.Owner || f.owner
	opts.Group = opts.Group || f.group
	opts.NumericIDs = f.numericIDs
	opts.OmitDirTimes = f.omitDirTimes
	opts.OmitLinkTimes = f.omitLinkTimes
	opts.Xattrs = opts.Xattrs || f.xattrs
	opts.ACLs = f.acls
	opts.HardLinks = opts.HardLinks || f.hardLinks

	if f.chmod != "" {
		mods, err := parseChmod(f.chmod)
		if err != nil {
			return option.Options{}, errs.NewInvalidArgument(errs.ReasonUnsupportedFileType, f.chmod)
		}

		opts.Chmod = mods
	}

	opts.Backup = opts.Backup || f.backup
	if f.backupDir != "" {
		opts.BackupDir = f.backupDir
	}
	if f.suffix != "" {
		opts.BackupSuffix = f.suffix
	}

	rules, err := buildFilterRules(f)
	if err != nil {
		return option.Options{}, err
	}
	opts.FilterRules = rules

	opts.LinkDests = f.linkDest

	for _, d := range f.compareDest {
		opts.References = append(opts.References, option.ReferenceDir{Path: d, Kind: option.ReferenceCompare})
	}

	for _, d := range f.copyDest {
		opts.References = append(opts.References, option.ReferenceDir{Path: d, Kind: option.ReferenceCopy})
	}

	opts.CollectEvents = f.collectEvents || f.stats

	return opts.Normalize(), nil
}

func resolveDeleteTiming(f *cliFlags) option.DeleteTiming {
	switch {
	case f.deleteBefore:
		return option.DeleteTimingBefore
	case f.deleteDuring:
		return option.DeleteTimingDuring
	case f.deleteDelay:
		return option.DeleteTimingDelay
	case f.deleteAfter:
		return option.DeleteTimingAfter
	default:
		return option.DeleteTimingNone
	}
}

// buildFilterRules assembles the raw filter-program line slice package
// filter expects, in CLI argument order: --filter lines pass through
// verbatim; --include/--exclude become "+ "/"- " directives;
// --include-from/--exclude-from read one pattern per line from a file;
// --cvs-exclude appends the CVS-compatibility dir-merge directive.
func buildFilterRules(f *cliFlags) ([]string, error) {
	var lines []string

	for _, p := range f.filters {
		lines = append(lines, p)
	}

	for _, p := range f.includes {
		lines = append(lines, "+ "+p)
	}

	for _, p := range f.excludes {
		lines = append(lines, "- "+p)
	}

	for _, path := range f.includeFrom {
		fileLines, err := readPatternFile(path, "+ ")
		if err != nil {
			return nil, err
		}

		lines = append(lines, fileLines...)
	}

	for _, path := range f.excludeFrom {
		fileLines, err := readPatternFile(path, "- ")
		if err != nil {
			return nil, err
		}

		lines = append(lines, fileLines...)
	}

	if f.cvsExclude {
		lines = append(lines, "dir-merge,C .cvsignore")
	}

	return lines, nil
}

func readPatternFile(path, prefix string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.NewIo("open", path, err)
	}
	defer file.Close()

	var lines []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lines = append(lines, prefix+line)
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.NewIo("read", path, err)
	}

	return lines, nil
}

// parseChmod parses rsync's "F..." / "D..." chmod modifier syntax, e.g.
// "Dg+s,ug+w,Fo-rwx": a bare modifier (no F/D prefix) applies to both
// files and directories.
func parseChmod(spec string) (option.ChmodModifiers, error) {
	var mods option.ChmodModifiers

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		target := "both"

		switch {
		case strings.HasPrefix(part, "F"):
			target = "file"
			part = part[1:]
		case strings.HasPrefix(part, "D"):
			target = "dir"
			part = part[1:]
		}

		rule, err := parseChmodRule(part)
		if err != nil {
			return option.ChmodModifiers{}, fmt.Errorf("chmod %q: %w", spec, err)
		}

		switch target {
		case "file":
			mods.File = mergeChmodRule(mods.File, rule)
		case "dir":
			mods.Dir = mergeChmodRule(mods.Dir, rule)
		default:
			mods.File = mergeChmodRule(mods.File, rule)
			mods.Dir = mergeChmodRule(mods.Dir, rule)
		}
	}

	return mods, nil
}

func mergeChmodRule(a, b option.ChmodRule) option.ChmodRule {
	return a.Merge(b)
}

// parseChmodRule parses one "ugo+-=rwx"-style clause into an additive and
// subtractive bitmask pair.
func parseChmodRule(clause string) (option.ChmodRule, error) {
	const (
		rRead  = 0o444
		rWrite = 0o222
		rExec  = 0o111
	)

	var who uint32

	i := 0

	for ; i < len(clause); i++ {
		switch clause[i] {
		case 'u':
			who |= 0o700
		case 'g':
			who |= 0o070
		case 'o':
			who |= 0o007
		case 'a':
			who |= 0o777
		default:
			i = len(clause)
		}
	}

	if who == 0 {
		who = 0o777 // no who letters given: applies to all of user/group/other
	}

	rest := strings.TrimLeft(clause, "ugoa")
	if rest == "" {
		return option.ChmodRule{}, fmt.Errorf("missing operator in %q", clause)
	}

	op := rest[0]
	bits := rest[1:]

	var mask uint32
	for _, c := range bits {
		switch c {
		case 'r':
			mask |= rRead & who
		case 'w':
			mask |= rWrite & who
		case 'x':
			mask |= rExec & who
		}
	}

	switch op {
	case '+':
		return option.NewChmodRule(mask, 0), nil
	case '-':
		return option.NewChmodRule(0, mask), nil
	case '=':
		return option.NewChmodRule(mask, who), nil
	default:
		return option.ChmodRule{}, fmt.Errorf("unsupported chmod operator %q", string(op))
	}
}

func buildLogger(f *cliFlags) *slog.Logger {
	level := slog.LevelWarn

	switch {
	case f.debug:
		level = slog.LevelDebug
	case f.verbose:
		level = slog.LevelInfo
	case f.quiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
