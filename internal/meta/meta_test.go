package meta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/option"
)

func TestCapture_RegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	snap, err := Capture(path, false)
	require.NoError(t, err)

	assert.Equal(t, KindFile, snap.Kind)
	assert.EqualValues(t, 5, snap.Size)
	assert.NotZero(t, snap.Ino)
}

func TestCapture_Directory(t *testing.T) {
	dir := t.TempDir()

	snap, err := Capture(dir, false)
	require.NoError(t, err)

	assert.Equal(t, KindDir, snap.Kind)
}

func TestCapture_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink("target.txt", link))

	snap, err := Capture(link, false)
	require.NoError(t, err)

	assert.Equal(t, KindSymlink, snap.Kind)
	assert.Equal(t, "target.txt", snap.LinkTarget)
}

func TestCapture_MissingPathErrors(t *testing.T) {
	_, err := Capture(filepath.Join(t.TempDir(), "missing"), false)
	require.Error(t, err)
}

func TestApplyFile_AppliesPermsAndTimes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := Snapshot{Mode: 0o640, Mtime: mtime}

	err := ApplyFile(path, snap, option.Options{Perms: true, Times: true}, DefaultACLApplier)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestApplyFile_NoOptionsIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	err := ApplyFile(path, Snapshot{Mode: 0o640}, option.Options{}, DefaultACLApplier)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestApplyDir_OmitDirTimesSkipsChtimes(t *testing.T) {
	dir := t.TempDir()

	ancientMtime := time.Unix(0, 0)

	err := ApplyDir(dir, Snapshot{Mode: 0o755, Mtime: ancientMtime}, option.Options{Times: true, OmitDirTimes: true}, DefaultACLApplier)
	require.NoError(t, err)

	after, err := os.Stat(dir)
	require.NoError(t, err)
	assert.False(t, after.ModTime().Equal(ancientMtime))
}

func TestResolveOwnership_DefaultsToSnapshotValues(t *testing.T) {
	snap := Snapshot{UID: 1000, GID: 1000}
	uid, gid := resolveOwnership(snap, option.Options{Owner: true, Group: true})
	assert.Equal(t, 1000, uid)
	assert.Equal(t, 1000, gid)
}

func TestResolveOwnership_ChownOverridesWin(t *testing.T) {
	overrideUID := 42
	overrideGID := 7
	snap := Snapshot{UID: 1000, GID: 1000}

	uid, gid := resolveOwnership(snap, option.Options{
		Owner: true, Group: true,
		ChownUID: &overrideUID, ChownGID: &overrideGID,
	})

	assert.Equal(t, 42, uid)
	assert.Equal(t, 7, gid)
}

func TestResolveOwnership_DisabledFieldsYieldNegativeOne(t *testing.T) {
	snap := Snapshot{UID: 1000, GID: 1000}
	uid, gid := resolveOwnership(snap, option.Options{})
	assert.Equal(t, -1, uid)
	assert.Equal(t, -1, gid)
}
