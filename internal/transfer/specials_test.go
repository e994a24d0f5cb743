package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/meta"
	"github.com/tonimelisma/localsync/internal/option"
)

func TestTransferSymlink_RecreatesLinkAtDestination(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "link")

	e := newTestEngine(t, destRoot, option.Options{})
	rc := engine.New(e.Opts, nil)

	task := FileTask{
		RelPath: "link",
		DstPath: dstPath,
		SrcSnap: meta.Snapshot{Kind: meta.KindSymlink, LinkTarget: "target.txt"},
	}

	require.NoError(t, e.TransferSymlink(rc, task, "."))

	got, err := os.Readlink(dstPath)
	require.NoError(t, err)
	assert.Equal(t, "target.txt", got)
	assert.EqualValues(t, 1, rc.Summary.SymlinksCopied)
}

func TestTransferFifo_SkippedWithoutSpecialsOption(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "pipe")

	e := newTestEngine(t, destRoot, option.Options{Specials: false})
	rc := engine.New(e.Opts, nil)

	task := FileTask{RelPath: "pipe", DstPath: dstPath, SrcSnap: meta.Snapshot{Kind: meta.KindFifo}}

	require.NoError(t, e.TransferFifo(rc, task))

	_, err := os.Stat(dstPath)
	assert.True(t, os.IsNotExist(err))
	assert.EqualValues(t, 0, rc.Summary.FifosCreated)
}

func TestTransferDevice_SkippedWithoutDevicesOption(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "dev0")

	e := newTestEngine(t, destRoot, option.Options{Devices: false})
	rc := engine.New(e.Opts, nil)

	task := FileTask{RelPath: "dev0", DstPath: dstPath, SrcSnap: meta.Snapshot{Kind: meta.KindDevice}}

	require.NoError(t, e.TransferDevice(rc, task))

	_, err := os.Stat(dstPath)
	assert.True(t, os.IsNotExist(err))
	assert.EqualValues(t, 0, rc.Summary.DevicesCreated)
}

func TestEnsureDirectory_CreatesNewDirectory(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "newdir")

	e := newTestEngine(t, destRoot, option.Options{})
	rc := engine.New(e.Opts, nil)

	created, err := e.EnsureDirectory(rc, dstPath)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.EqualValues(t, 1, rc.Summary.DirectoriesCreated)
}

func TestEnsureDirectory_ExistingDirectoryIsNoop(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "existing")
	require.NoError(t, os.MkdirAll(dstPath, 0o777))

	e := newTestEngine(t, destRoot, option.Options{})
	rc := engine.New(e.Opts, nil)

	created, err := e.EnsureDirectory(rc, dstPath)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureDirectory_ReplacesExistingFileWithDirectory(t *testing.T) {
	destRoot := t.TempDir()
	dstPath := filepath.Join(destRoot, "waswasfile")
	writeFile(t, dstPath, "x")

	e := newTestEngine(t, destRoot, option.Options{})
	rc := engine.New(e.Opts, nil)

	created, err := e.EnsureDirectory(rc, dstPath)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(dstPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
