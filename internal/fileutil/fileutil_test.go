package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// TestEnsureDir verifies that a directory is created if it doesn't exist.
func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, fileutil.EnsureDir(testPath))
	require.NoError(t, fileutil.EnsureDir(testPath), "EnsureDir must be idempotent")

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestClearMatching_OnlyRemovesPattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "frame_00000.png"), "a")
	writeFile(t, filepath.Join(dir, "frame_00001.png"), "b")
	writeFile(t, filepath.Join(dir, "notes.txt"), "keep")

	removed, err := fileutil.ClearMatching(dir, "frame_*.png")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	remaining, err := fileutil.ListMatching(dir, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "notes.txt")}, remaining)
}

func TestListMatching_MissingDir(t *testing.T) {
	t.Parallel()

	matches, err := fileutil.ListMatching(filepath.Join(t.TempDir(), "absent"), "frame_*.png")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRequireNonEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	full := filepath.Join(dir, "full.mp4")

	writeFile(t, empty, "")
	writeFile(t, full, "data")

	_, err := fileutil.RequireNonEmptyFile(empty)
	require.ErrorIs(t, err, fileutil.ErrEmptyFile)

	_, err = fileutil.RequireNonEmptyFile(filepath.Join(dir, "missing.mp4"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = fileutil.RequireNonEmptyFile(dir)
	require.ErrorIs(t, err, fileutil.ErrNotRegularFile)

	size, err := fileutil.RequireNonEmptyFile(full)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestPartialPathAndCopy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/v/job_output.partial.mp4", fileutil.PartialPath("/v/job_output.mp4"))

	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "nested", "dst.jpg")
	writeFile(t, src, "portrait")

	require.NoError(t, fileutil.CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "portrait", string(data))
	assert.False(t, fileutil.Exists(fileutil.PartialPath(dst)))
}

func TestResetDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "scratch")
	writeFile(t, filepath.Join(dir, "stale", "frame_00000.png"), "x")

	require.NoError(t, fileutil.ResetDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFormatting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45.2s", fileutil.FormatDuration(45.2))
	assert.Equal(t, "5m 30.5s", fileutil.FormatDuration(330.5))
	assert.Equal(t, "1h 15m", fileutil.FormatDuration(4500))
	assert.Equal(t, "512 B", fileutil.FormatFileSize(512))
	assert.Equal(t, "1.5 MB", fileutil.FormatFileSize(1572864))
}
