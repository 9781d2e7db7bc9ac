package ports

// SourceResolver expands source patterns into concrete files.
//
//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks -source=resolver.go
type SourceResolver interface {
	// ResolveSources expands the glob patterns relative to root and returns the matches
	// as sorted, de-duplicated paths relative to root.
	ResolveSources(patterns []string, root string) ([]string, error)
}
