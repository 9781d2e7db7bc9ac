package domain

import (
	"path/filepath"
	"time"
)

const (
	// BuildFileName is the build description looked up when no file is given.
	BuildFileName = "kiln.yaml"

	// SettingsFileName is the optional engine settings file.
	SettingsFileName = ".kiln.yaml"

	// StateDirName is the directory holding kiln's persisted state.
	StateDirName = ".kiln"

	// MetadataFileName is the metadata store inside StateDirName.
	MetadataFileName = "metadata"

	// AllTarget is the default target. When not declared it aggregates every root.
	AllTarget = "all"

	// DirPerm is used for state directories.
	DirPerm = 0o750

	// FilePerm is used for state files.
	FilePerm = 0o644

	// StderrTailLines is how many trailing stderr lines a failure keeps for the report.
	StderrTailLines = 20

	// DefaultWatchDebounce is the quiet period kiln watch waits for before rebuilding.
	DefaultWatchDebounce = 100 * time.Millisecond
)

// DefaultCacheFile returns the metadata store path for a project rooted at root.
func DefaultCacheFile(root string) string {
	return filepath.Join(root, StateDirName, MetadataFileName)
}
