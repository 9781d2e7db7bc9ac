package ports

import "go.trai.ch/kiln/internal/core/domain"

// ConfigLoader defines the interface for loading the build description.
//
//go:generate mockgen -source=config_loader.go -destination=mocks/mock_config_loader.go -package=mocks
type ConfigLoader interface {
	// Load reads the build description at path and returns the target graph.
	// The graph's root is the directory containing path.
	Load(path string) (*domain.Graph, error)

	// Discover walks up from cwd and returns the path of the nearest build description.
	Discover(cwd string) (string, error)
}
