// Package conventions centralizes the on-disk layout of the flowforge data
// directory so commands and components agree on paths.
package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default flowforge data directory name (relative to home).
	DefaultDataDir = ".flowforge"
	// DBFile is the SQLite database filename.
	DBFile = "flowforge.db"
	// ScreenshotsDir is the subdirectory for step screenshots.
	ScreenshotsDir = "screenshots"
)

// DBPath returns the full path to the SQLite database file.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// ScreenshotsPath returns the full path to the screenshots directory.
func ScreenshotsPath(dataDir string) string {
	return filepath.Join(dataDir, ScreenshotsDir)
}
