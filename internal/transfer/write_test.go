package transfer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/option"
)

func TestExtOf(t *testing.T) {
	assert.Equal(t, "gz", extOf("archive.tar.gz"))
	assert.Equal(t, "", extOf("noext"))
	assert.Equal(t, "", extOf("dir/.hidden"))
	assert.Equal(t, "txt", extOf("dir.with.dots/file.txt"))
}

func TestNewStagingGuard_UsesTempModeByDefault(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "file.txt")

	e := newTestEngine(t, destRoot, option.Options{})

	g, err := e.newStagingGuard(dstPath)
	require.NoError(t, err)
	defer g.Discard()

	assert.NotEqual(t, dstPath, g.TempPath())
}

func TestNewStagingGuard_UsesPartialModeWhenConfigured(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "file.txt")

	e := newTestEngine(t, destRoot, option.Options{Partial: true})

	g, err := e.newStagingGuard(dstPath)
	require.NoError(t, err)
	defer g.Discard()

	assert.Equal(t, filepath.Join(destRoot, ".rsync-partial-file.txt"), g.TempPath())
}
