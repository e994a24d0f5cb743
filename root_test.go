package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/config"
	"github.com/tonimelisma/localsync/internal/option"
)

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	logger := buildLogger(&cliFlags{})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_Verbose(t *testing.T) {
	logger := buildLogger(&cliFlags{verbose: true})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Debug(t *testing.T) {
	logger := buildLogger(&cliFlags{debug: true})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	logger := buildLogger(&cliFlags{quiet: true})

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

// --- newRootCmd / flag wiring tests ---

func TestNewRootCmd_RequiresNoBuiltinArgCheck(t *testing.T) {
	// Argument-count validation is delegated to operand.Parse (so the
	// MissingSourceOperands error maps to exit code 1); cobra itself must
	// not reject short argument lists before RunE runs.
	cmd := newRootCmd()
	cmd.SetArgs([]string{"onlyone"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "arg(s)")
}

func TestNewRootCmd_KnownFlags(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{
		"delete", "delete-before", "delete-during", "delete-delay", "delete-after",
		"delete-excluded", "max-delete", "remove-source-files", "ignore-existing",
		"ignore-missing-args", "update", "modify-window", "size-only", "checksum-choice",
		"relative", "no-implied-dirs", "mkpath", "one-file-system", "prune-empty-dirs",
		"copy-links", "copy-dirlinks", "copy-unsafe-links", "keep-dirlinks", "safe-links",
		"devices", "specials", "no-whole-file", "inplace", "append", "append-verify",
		"partial", "partial-dir", "temp-dir", "delay-updates", "sparse", "preallocate",
		"compress", "compress-level", "skip-compress", "min-size", "max-size", "bwlimit",
		"timeout", "perms", "times", "owner", "group", "numeric-ids", "omit-dir-times",
		"omit-link-times", "xattrs", "acls", "hard-links", "chmod", "backup", "backup-dir",
		"suffix", "include", "exclude", "filter", "include-from", "exclude-from",
		"cvs-exclude", "link-dest", "compare-dest", "copy-dest", "events", "stats",
		"quiet", "verbose", "debug", "config",
	}

	for _, name := range expected {
		assert.NotNil(t, cmd.Flags().Lookup(name), "expected flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(append([]string{}, flags...), "/tmp/a", "/tmp/b"))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestNewRootCmd_DeleteTimingMutualExclusivity(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--delete-before", "--delete-after", "/tmp/a", "/tmp/b"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

// --- resolveDeleteTiming tests ---

func TestResolveDeleteTiming(t *testing.T) {
	assert.Equal(t, option.DeleteTimingNone, resolveDeleteTiming(&cliFlags{}))
	assert.Equal(t, option.DeleteTimingBefore, resolveDeleteTiming(&cliFlags{deleteBefore: true}))
	assert.Equal(t, option.DeleteTimingDuring, resolveDeleteTiming(&cliFlags{deleteDuring: true}))
	assert.Equal(t, option.DeleteTimingDelay, resolveDeleteTiming(&cliFlags{deleteDelay: true}))
	assert.Equal(t, option.DeleteTimingAfter, resolveDeleteTiming(&cliFlags{deleteAfter: true}))
}

// --- buildFilterRules / readPatternFile tests ---

func TestBuildFilterRules_Order(t *testing.T) {
	f := &cliFlags{
		filters:    []string{"+ raw"},
		includes:   []string{"*.go"},
		excludes:   []string{"*.tmp"},
		cvsExclude: true,
	}

	rules, err := buildFilterRules(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"+ raw", "+ *.go", "- *.tmp", "dir-merge,C .cvsignore"}, rules)
}

func TestBuildFilterRules_IncludeFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\n*.log\nbuild/\n"), 0o644))

	f := &cliFlags{includeFrom: []string{path}}

	rules, err := buildFilterRules(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"+ *.log", "+ build/"}, rules)
}

func TestBuildFilterRules_ExcludeFromMissingFile(t *testing.T) {
	f := &cliFlags{excludeFrom: []string{filepath.Join(t.TempDir(), "absent.txt")}}

	_, err := buildFilterRules(f)
	require.Error(t, err)
}

// --- parseChmod / parseChmodRule tests ---

func TestParseChmod_FileAndDirModifiers(t *testing.T) {
	mods, err := parseChmod("Dg+w,Fo-rwx")
	require.NoError(t, err)

	assert.Equal(t, uint32(0), mods.File.AddMask)
	assert.NotZero(t, mods.File.ClearMask)
	assert.NotZero(t, mods.Dir.AddMask)
}

func TestParseChmod_BareAppliesToBoth(t *testing.T) {
	mods, err := parseChmod("u+w")
	require.NoError(t, err)

	assert.Equal(t, mods.File.AddMask, mods.Dir.AddMask)
	assert.NotZero(t, mods.File.AddMask)
}

func TestParseChmod_SetOperator(t *testing.T) {
	mods, err := parseChmod("a=r")
	require.NoError(t, err)

	assert.NotZero(t, mods.File.AddMask)
	assert.NotZero(t, mods.File.ClearMask)
}

func TestParseChmod_MissingOperator(t *testing.T) {
	_, err := parseChmod("ug")
	require.Error(t, err)
}

func TestParseChmod_UnsupportedOperator(t *testing.T) {
	_, err := parseChmodRule("u*w")
	require.Error(t, err)
}

// --- buildOptions tests ---

func TestBuildOptions_Defaults(t *testing.T) {
	opts, err := buildOptions(&cliFlags{}, &config.Defaults{})
	require.NoError(t, err)

	assert.True(t, opts.ImpliedDirs)
	assert.True(t, opts.WholeFile)
	assert.Equal(t, "~", opts.BackupSuffix)
}

func TestBuildOptions_DeleteImpliesDelete(t *testing.T) {
	opts, err := buildOptions(&cliFlags{deleteBefore: true}, &config.Defaults{})
	require.NoError(t, err)

	assert.True(t, opts.Delete)
	assert.Equal(t, option.DeleteTimingBefore, opts.DeleteTiming)
}

func TestBuildOptions_NoWholeFileEnablesDelta(t *testing.T) {
	opts, err := buildOptions(&cliFlags{noWholeFile: true}, &config.Defaults{})
	require.NoError(t, err)

	assert.False(t, opts.WholeFile)
}

func TestBuildOptions_ReferenceDirsAppendInOrder(t *testing.T) {
	opts, err := buildOptions(&cliFlags{
		compareDest: []string{"/ref/compare"},
		copyDest:    []string{"/ref/copy"},
	}, &config.Defaults{})
	require.NoError(t, err)

	require.Len(t, opts.References, 2)
	assert.Equal(t, option.ReferenceCompare, opts.References[0].Kind)
	assert.Equal(t, option.ReferenceCopy, opts.References[1].Kind)
}

func TestBuildOptions_StatsImpliesCollectEvents(t *testing.T) {
	opts, err := buildOptions(&cliFlags{stats: true}, &config.Defaults{})
	require.NoError(t, err)

	assert.True(t, opts.CollectEvents)
}

func TestBuildOptions_InvalidChmod(t *testing.T) {
	_, err := buildOptions(&cliFlags{chmod: "zz"}, &config.Defaults{})
	require.Error(t, err)
}
