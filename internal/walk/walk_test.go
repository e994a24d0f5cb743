package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/operand"
	"github.com/tonimelisma/localsync/internal/option"
)

func TestSortEntries_OrdersByUnicodeNormalizedName(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"banana", "Apple", "cherry"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	rawEntries, err := os.ReadDir(dir)
	require.NoError(t, err)

	sorted := sortEntries(rawEntries)

	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.Name()
	}

	assert.Equal(t, []string{"Apple", "banana", "cherry"}, names)
}

func TestSortEntries_DoesNotMutateInput(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"zeta", "alpha"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	rawEntries, err := os.ReadDir(dir) // os.ReadDir already returns sorted entries
	require.NoError(t, err)

	original := append([]os.DirEntry(nil), rawEntries...)
	sortEntries(rawEntries)

	for i := range rawEntries {
		assert.Equal(t, original[i].Name(), rawEntries[i].Name())
	}
}

func TestRequiresDestDirectory_MultipleSources(t *testing.T) {
	d := &Driver{}
	plan := &operand.Plan{Sources: []operand.Operand{{Path: "a"}, {Path: "b"}}}

	assert.True(t, d.requiresDestDirectory(plan))
}

func TestRequiresDestDirectory_ForceDirectoryDestination(t *testing.T) {
	d := &Driver{}
	plan := &operand.Plan{
		Sources:     []operand.Operand{{Path: "a"}},
		Destination: operand.DestinationSpec{ForceDirectory: true},
	}

	assert.True(t, d.requiresDestDirectory(plan))
}

func TestRequiresDestDirectory_RelativePathsOption(t *testing.T) {
	d := &Driver{Opts: option.Options{RelativePaths: true}}
	plan := &operand.Plan{Sources: []operand.Operand{{Path: "a"}}}

	assert.True(t, d.requiresDestDirectory(plan))
}

func TestRequiresDestDirectory_CopyContentsSource(t *testing.T) {
	d := &Driver{}
	plan := &operand.Plan{Sources: []operand.Operand{{Path: "a/", CopyContents: true}}}

	assert.True(t, d.requiresDestDirectory(plan))
}

func TestRequiresDestDirectory_SingleLiteralSourceIsFalse(t *testing.T) {
	d := &Driver{}
	plan := &operand.Plan{Sources: []operand.Operand{{Path: "a"}}}

	assert.False(t, d.requiresDestDirectory(plan))
}

func TestEffectiveTiming_BareDeleteDefaultsToDuring(t *testing.T) {
	d := &Driver{Opts: option.Options{Delete: true, DeleteTiming: option.DeleteTimingNone}}
	assert.Equal(t, option.DeleteTimingDuring, d.effectiveTiming())
}

func TestEffectiveTiming_ExplicitTimingWins(t *testing.T) {
	d := &Driver{Opts: option.Options{Delete: true, DeleteTiming: option.DeleteTimingBefore}}
	assert.Equal(t, option.DeleteTimingBefore, d.effectiveTiming())
}

func TestEffectiveTiming_NoneWhenDeleteDisabled(t *testing.T) {
	d := &Driver{Opts: option.Options{Delete: false, DeleteTiming: option.DeleteTimingNone}}
	assert.Equal(t, option.DeleteTimingNone, d.effectiveTiming())
}

func TestDeleteEnabled(t *testing.T) {
	assert.True(t, (&Driver{Opts: option.Options{Delete: true}}).deleteEnabled())
	assert.False(t, (&Driver{Opts: option.Options{Delete: false}}).deleteEnabled())
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, dirExists(dir))
	assert.False(t, dirExists(filepath.Join(dir, "missing")))

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	assert.False(t, dirExists(file))
}

func TestResolveDestination_RelativePreservesMarkerSuffix(t *testing.T) {
	d := &Driver{}
	src := operand.Operand{Path: "/tmp/src/./a/b.txt", RelativePrefixComponents: 3}

	destName, destDir := d.resolveDestination(src, true, "/tmp/dst")

	assert.Equal(t, filepath.Join("/tmp/dst", "a/b.txt"), destName)
	assert.Equal(t, filepath.Dir(destName), destDir)
}

func TestResolveDestination_CopyContentsLandsDirectlyUnderRoot(t *testing.T) {
	d := &Driver{}
	src := operand.Operand{Path: "/tmp/src/", CopyContents: true, RelativePrefixComponents: -1}

	destName, _ := d.resolveDestination(src, true, "/tmp/dst")

	assert.Equal(t, "/tmp/dst", destName)
}

func TestResolveDestination_DirectoryDestinationJoinsBasename(t *testing.T) {
	d := &Driver{}
	src := operand.Operand{Path: "/tmp/src/file.txt", RelativePrefixComponents: -1}

	destName, _ := d.resolveDestination(src, true, "/tmp/dst")

	assert.Equal(t, filepath.Join("/tmp/dst", "file.txt"), destName)
}

func TestResolveDestination_LiteralRenameWhenNoDirectoryRequired(t *testing.T) {
	d := &Driver{}
	src := operand.Operand{Path: "/tmp/src/file.txt", RelativePrefixComponents: -1}

	destName, _ := d.resolveDestination(src, false, "/tmp/dst")

	assert.Equal(t, "/tmp/dst", destName)
}

func TestRelativeRootFor_PreservesSuffixAfterMarker(t *testing.T) {
	src := operand.Operand{Path: "/tmp/src/./a/b.txt", RelativePrefixComponents: 3}

	assert.Equal(t, filepath.Join("a", "b.txt"), relativeRootFor(src))
}

func TestRelativeRootFor_MarkerAtEndFallsBackToBasename(t *testing.T) {
	// The "." marker is the last path component: there is nothing after it
	// to preserve, so this takes the same out-of-range fallback as no
	// marker at all. filepath.Base of a path ending in "." is ".", so the
	// entry lands directly at the destination root.
	src := operand.Operand{Path: "/tmp/src/a/.", RelativePrefixComponents: 4}

	assert.Equal(t, ".", relativeRootFor(src))
}

func TestRelativeRootFor_NoMarkerFallsBackToBasename(t *testing.T) {
	src := operand.Operand{Path: "/tmp/src/file.txt", RelativePrefixComponents: -1}

	assert.Equal(t, "file.txt", relativeRootFor(src))
}
