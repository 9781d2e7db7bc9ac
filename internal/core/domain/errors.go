package domain

import (
	"errors"

	"go.trai.ch/zerr"
)

var (
	// ErrDuplicateTarget is returned when a target is added under a key that already exists.
	ErrDuplicateTarget = zerr.New("duplicate target")

	// ErrUnknownTarget is returned when a key does not resolve to a registered target.
	ErrUnknownTarget = zerr.New("unknown target")

	// ErrMalformedRecipe is returned when a recipe or message template cannot be parsed
	// or references a placeholder with no value.
	ErrMalformedRecipe = zerr.New("malformed recipe")

	// ErrInvalidTargetName is returned when a target key is empty or otherwise unusable.
	ErrInvalidTargetName = zerr.New("invalid target name")

	// ErrConfigNotFound is returned when no build description exists in or above the working directory.
	ErrConfigNotFound = zerr.New("build description not found")

	// ErrConfigRead is returned when the build description cannot be read.
	ErrConfigRead = zerr.New("failed to read build description")

	// ErrConfigParse is returned when the build description is not valid YAML.
	ErrConfigParse = zerr.New("failed to parse build description")

	// ErrInvalidSourcePattern is returned when a source pattern is not a valid glob.
	ErrInvalidSourcePattern = zerr.New("invalid source pattern")

	// ErrSourceNotFound is returned when a literal source path does not exist.
	ErrSourceNotFound = zerr.New("source not found")

	// ErrInvalidSettings is returned when engine settings cannot be resolved.
	ErrInvalidSettings = zerr.New("invalid settings")

	// ErrCyclicDependency is returned when a target transitively depends on itself.
	ErrCyclicDependency = zerr.New("cyclic dependency")

	// ErrCommandFailed is returned when a recipe exits non-zero or cannot be started.
	ErrCommandFailed = zerr.New("command failed")

	// ErrNoRecipe is returned when a missing file target has nothing that could produce it.
	ErrNoRecipe = zerr.New("no rule to make target")

	// ErrDependencyFailed is recorded for targets skipped because a dependency failed.
	ErrDependencyFailed = zerr.New("dependency failed")

	// ErrBuildAborted is recorded for targets that were never dispatched because the build was interrupted.
	ErrBuildAborted = zerr.New("build aborted")

	// ErrBuildFailed is returned when at least one target in a build failed.
	ErrBuildFailed = zerr.New("build failed")

	// ErrCacheIO is returned when the metadata store cannot be read or written.
	ErrCacheIO = zerr.New("metadata cache i/o error")

	// ErrInvalidTransition is returned when a target is moved between two states
	// the lifecycle does not connect.
	ErrInvalidTransition = zerr.New("invalid state transition")

	// ErrOutputPathOutsideRoot is returned when clean would touch a path outside the project root.
	ErrOutputPathOutsideRoot = zerr.New("output path is outside project root")

	// ErrFailedToCleanOutput is returned when a target output cannot be removed.
	ErrFailedToCleanOutput = zerr.New("failed to clean output")
)

var configErrors = []error{
	ErrDuplicateTarget,
	ErrUnknownTarget,
	ErrMalformedRecipe,
	ErrInvalidTargetName,
	ErrConfigNotFound,
	ErrConfigRead,
	ErrConfigParse,
	ErrInvalidSourcePattern,
	ErrSourceNotFound,
	ErrInvalidSettings,
}

// IsConfigError reports whether err stems from a problem in the build description or settings.
// Cycles are reported separately by ErrCyclicDependency.
func IsConfigError(err error) bool {
	for _, target := range configErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
