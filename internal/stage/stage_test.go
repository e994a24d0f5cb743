package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemp_CreatesUniqueFileAndCommits(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")

	g, err := New(ModeTemp, final, "")
	require.NoError(t, err)

	_, err = g.File().WriteString("hello")
	require.NoError(t, err)

	require.NoError(t, g.Commit())

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// The staging path must no longer exist after commit.
	_, err = os.Stat(g.TempPath())
	assert.True(t, os.IsNotExist(err))
}

func TestNewTemp_DiscardRemovesStagingFile(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")

	g, err := New(ModeTemp, final, "")
	require.NoError(t, err)

	tempPath := g.TempPath()
	g.Discard()

	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))
}

func TestNewTemp_UsesTempDirWhenSet(t *testing.T) {
	finalDir := t.TempDir()
	tempDir := t.TempDir()
	final := filepath.Join(finalDir, "file.txt")

	g, err := New(ModeTemp, final, tempDir)
	require.NoError(t, err)
	defer g.Discard()

	assert.Equal(t, tempDir, filepath.Dir(g.TempPath()))
}

func TestNewPartial_DeterministicName(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")

	g, err := New(ModePartial, final, "")
	require.NoError(t, err)
	defer g.Discard()

	assert.Equal(t, filepath.Join(dir, ".rsync-partial-file.txt"), g.TempPath())
}

func TestNewPartial_RemovesExistingPartialFirst(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")
	partialPath := filepath.Join(dir, ".rsync-partial-file.txt")

	require.NoError(t, os.WriteFile(partialPath, []byte("stale"), 0o600))

	g, err := New(ModePartial, final, "")
	require.NoError(t, err)
	defer g.Discard()

	data, err := os.ReadFile(g.TempPath())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNewPartial_DiscardRetainsFile(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")

	g, err := New(ModePartial, final, "")
	require.NoError(t, err)

	_, err = g.File().WriteString("partial data")
	require.NoError(t, err)

	tempPath := g.TempPath()
	g.Discard()

	data, err := os.ReadFile(tempPath)
	require.NoError(t, err)
	assert.Equal(t, "partial data", string(data))
}

func TestNewPartial_UsesPartialDirWhenSet(t *testing.T) {
	finalDir := t.TempDir()
	partialDir := filepath.Join(t.TempDir(), "nested", "partials")
	final := filepath.Join(finalDir, "file.txt")

	g, err := New(ModePartial, final, partialDir)
	require.NoError(t, err)
	defer g.Discard()

	assert.Equal(t, filepath.Join(partialDir, "file.txt"), g.TempPath())
}

func TestCommit_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")

	g, err := New(ModeTemp, final, "")
	require.NoError(t, err)

	require.NoError(t, g.Commit())
	require.NoError(t, g.Commit()) // second call is a no-op, not an error
}

func TestCommit_ReplacesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(final, []byte("old"), 0o600))

	g, err := New(ModeTemp, final, "")
	require.NoError(t, err)

	_, err = g.File().WriteString("new")
	require.NoError(t, err)

	require.NoError(t, g.Commit())

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New(Mode(99), "/tmp/whatever", "")
	require.Error(t, err)
}
