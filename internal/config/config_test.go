package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/option"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoadOrDefault_MissingFile(t *testing.T) {
	d, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, d)

	opts := d.Apply(option.Options{})
	assert.Equal(t, option.Options{}, opts)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	d, err := LoadOrDefault("", testLogger())
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestLoad_AppliesKnownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.toml")

	writeFile(t, path, `
delete = true
max_deletions = 500
checksum_algorithm = "xxhash3"
timeout = "30s"
skip_compress = ["jpg", "mp4"]
`)

	d, err := Load(path, testLogger())
	require.NoError(t, err)

	opts := d.Apply(option.Options{})
	assert.True(t, opts.Delete)
	assert.Equal(t, 500, opts.MaxDeletions)
	assert.Equal(t, "xxhash3", opts.ChecksumAlgorithm)
	assert.Equal(t, []string{"jpg", "mp4"}, opts.SkipCompress)
	assert.Equal(t, "30s", opts.Timeout.String())
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.toml")

	writeFile(t, path, `delet = true`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "delete"`)
}

func TestApply_PresentFieldOverridesPassedValue(t *testing.T) {
	d := &Defaults{Delete: boolPtr(true)}

	opts := option.Options{Delete: false}
	opts = d.Apply(opts)
	assert.True(t, opts.Delete)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func boolPtr(b bool) *bool { return &b }
