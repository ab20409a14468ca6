// Package fileutil provides file and path helpers shared by the pipeline stages.
//
// Every stage hands its output to the next one through the filesystem, so these
// helpers centralise directory creation, stale artifact removal and the
// write-to-temp-then-rename convention used for anything a reader might observe.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Common permissions and suffixes.
const (
	DirPermissions  = 0o750
	FilePermissions = 0o600
	partialSuffix   = ".partial"
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Error format strings.
const (
	errFmtFailedToCreateDir  = "failed to create directory %s: %w"
	errFmtFailedToGlob       = "failed to list %s in %s: %w"
	errFmtFailedToRemove     = "failed to remove %s: %w"
	errFmtFailedToStat       = "failed to stat %s: %w"
	errFmtFailedToCommit     = "failed to move %s to %s: %w"
	errFmtNotARegularFile    = "%w: %s"
	errFmtEmptyFile          = "%w: %s"
	errFmtFailedToCopy       = "failed to copy %s to %s: %w"
	errFmtFailedToResolveAbs = "could not resolve absolute path for %q: %w"
)

var (
	// ErrNotRegularFile is returned when a path exists but is not a regular file.
	ErrNotRegularFile = errors.New("not a regular file")
	// ErrEmptyFile is returned when a file exists but holds no data.
	ErrEmptyFile = errors.New("file is empty")
)

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, DirPermissions)
	if err != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, err)
	}

	return nil
}

// EnsureParentDir creates the directory that will contain path.
func EnsureParentDir(path string) error {
	return EnsureDir(filepath.Dir(path))
}

// ResetDir removes dir with all its content and recreates it empty.
func ResetDir(dir string) error {
	err := os.RemoveAll(dir)
	if err != nil {
		return fmt.Errorf(errFmtFailedToRemove, dir, err)
	}

	return EnsureDir(dir)
}

// ListMatching returns the files in dir matching pattern, sorted lexicographically.
// A missing dir yields an empty list.
func ListMatching(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf(errFmtFailedToGlob, pattern, dir, err)
	}

	sort.Strings(matches)

	return matches, nil
}

// ClearMatching deletes every file in dir matching pattern and reports how many
// were removed.
func ClearMatching(dir, pattern string) (int, error) {
	matches, err := ListMatching(dir, pattern)
	if err != nil {
		return 0, err
	}

	for _, match := range matches {
		removeErr := os.Remove(match)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			return 0, fmt.Errorf(errFmtFailedToRemove, match, removeErr)
		}
	}

	return len(matches), nil
}

// RemoveIfExists deletes path and ignores a missing file.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf(errFmtFailedToRemove, path, err)
	}

	return nil
}

// Exists reports whether anything exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// RequireNonEmptyFile returns an error unless path is a regular file holding data.
// The returned error wraps os.ErrNotExist when nothing is at path.
func RequireNonEmptyFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf(errFmtFailedToStat, path, err)
	}

	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf(errFmtNotARegularFile, ErrNotRegularFile, path)
	}

	if info.Size() == 0 {
		return 0, fmt.Errorf(errFmtEmptyFile, ErrEmptyFile, path)
	}

	return info.Size(), nil
}

// PartialPath returns the sibling temporary name used while path is being written.
// The original extension is kept so tools that infer a format from it still work.
func PartialPath(path string) string {
	ext := filepath.Ext(path)

	return strings.TrimSuffix(path, ext) + partialSuffix + ext
}

// Commit atomically moves a fully written temporary file onto its final name.
func Commit(tempPath, finalPath string) error {
	err := os.Rename(tempPath, finalPath)
	if err != nil {
		return fmt.Errorf(errFmtFailedToCommit, tempPath, finalPath, err)
	}

	return nil
}

// CopyFile copies src to dst through a partial file and a rename.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf(errFmtFailedToCopy, src, dst, err)
	}

	err = EnsureParentDir(dst)
	if err != nil {
		return err
	}

	partial := PartialPath(dst)

	err = os.WriteFile(partial, data, FilePermissions)
	if err != nil {
		_ = os.Remove(partial)

		return fmt.Errorf(errFmtFailedToCopy, src, dst, err)
	}

	return Commit(partial, dst)
}

// Abs resolves path against the current working directory.
func Abs(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf(errFmtFailedToResolveAbs, path, err)
	}

	return absPath, nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}
