// Package output builds termenv outputs with the color rules shared by the
// logger and the build report.
package output

import (
	"io"
	"os"

	"github.com/muesli/termenv"
)

// NoColorEnv disables colored output when set to any non-empty value.
const NoColorEnv = "NO_COLOR"

// ColorProfile returns the profile for terminal output.
// NO_COLOR forces Ascii, otherwise the terminal's capabilities are detected.
func ColorProfile() termenv.Profile {
	if os.Getenv(NoColorEnv) != "" {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// PlainProfile returns Ascii regardless of the environment.
func PlainProfile() termenv.Profile {
	return termenv.Ascii
}

// New creates a termenv.Output using ColorProfile.
// A nil writer falls back to os.Stderr.
func New(w io.Writer, opts ...termenv.OutputOption) *termenv.Output {
	return NewWithProfile(w, ColorProfile, opts...)
}

// NewWithProfile creates a termenv.Output with a custom profile selector.
func NewWithProfile(w io.Writer, profileFn func() termenv.Profile, opts ...termenv.OutputOption) *termenv.Output {
	if w == nil {
		w = os.Stderr
	}

	opts = append(opts,
		termenv.WithProfile(profileFn()),
		termenv.WithTTY(true),
	)

	return termenv.NewOutput(w, opts...)
}
