package trash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_DefaultSuffixAlongsideOriginal(t *testing.T) {
	got := Path("/dest", "", "", "sub/file.txt")
	assert.Equal(t, filepath.Join("/dest", "sub", "file.txt~"), got)
}

func TestPath_CustomSuffix(t *testing.T) {
	got := Path("/dest", "", ".bak", "file.txt")
	assert.Equal(t, filepath.Join("/dest", "file.txt.bak"), got)
}

func TestPath_RelativeBackupDirJoinsDestRoot(t *testing.T) {
	got := Path("/dest", ".backup", "", "sub/file.txt")
	assert.Equal(t, filepath.Join("/dest", ".backup", "sub", "file.txt~"), got)
}

func TestPath_AbsoluteBackupDirUsedAsIs(t *testing.T) {
	got := Path("/dest", "/var/backups", "", "sub/file.txt")
	assert.Equal(t, filepath.Join("/var/backups", "sub", "file.txt~"), got)
}

func TestMove_RelocatesFileToBackupDest(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(existing, []byte("content"), 0o600))

	backupDest := filepath.Join(dir, "backups", "file.txt~")

	require.NoError(t, Move(existing, backupDest))

	data, err := os.ReadFile(backupDest)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	_, err = os.Stat(existing)
	assert.True(t, os.IsNotExist(err))
}

func TestMove_MissingSourceIsNoop(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "missing.txt")
	backupDest := filepath.Join(dir, "backups", "missing.txt~")

	assert.NoError(t, Move(existing, backupDest))

	_, err := os.Stat(backupDest)
	assert.True(t, os.IsNotExist(err))
}

func TestMove_ExistingBackupDestIsReplaced(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(existing, []byte("new"), 0o600))

	backupDest := filepath.Join(dir, "file.txt~")
	require.NoError(t, os.WriteFile(backupDest, []byte("stale"), 0o600))

	require.NoError(t, Move(existing, backupDest))

	data, err := os.ReadFile(backupDest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCollisionFreeName_NoCollisionReturnsOriginal(t *testing.T) {
	dir := t.TempDir()

	got, err := CollisionFreeName(dir, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file.txt"), got)
}

func TestCollisionFreeName_AppendsFinderStyleSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o600))

	got, err := CollisionFreeName(dir, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file 2.txt"), got)
}

func TestCollisionFreeName_SkipsMultipleExistingCollisions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file 2.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file 3.txt"), []byte("x"), 0o600))

	got, err := CollisionFreeName(dir, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "file 4.txt"), got)
}
