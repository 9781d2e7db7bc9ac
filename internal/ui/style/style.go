// Package style holds the colors and icons shared by the CLI output.
package style

// Color is a hex RGB color understood by termenv.RGBColor.
type Color string

// Palette.
const (
	Iris   Color = "#8B5CF6"
	Slate  Color = "#667085"
	Green  Color = "#22A06B"
	Red    Color = "#D93025"
	Yellow Color = "#F59E0B"
)

// Icons.
const (
	Check   = "✓"
	Cross   = "✗"
	Warning = "!"
	Tilde   = "~"
	Dot     = "●"
	Circle  = "○"
	Arrow   = "→"
)
