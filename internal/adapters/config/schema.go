package config

// SupportedVersion is the only build description version understood by the loader.
const SupportedVersion = "1"

// Kilnfile is the structure of kiln.yaml.
type Kilnfile struct {
	Version string               `yaml:"version"`
	Default string               `yaml:"default"`
	Vars    map[string]string    `yaml:"vars"`
	Sources []string             `yaml:"sources"`
	Rules   map[string]RuleDTO   `yaml:"rules"`
	Targets map[string]TargetDTO `yaml:"targets"`
}

// RuleDTO is a recipe applied to file targets by output suffix.
type RuleDTO struct {
	Recipe  string `yaml:"recipe"`
	Message string `yaml:"message"`
}

// TargetDTO is a target declaration.
type TargetDTO struct {
	Deps    []string          `yaml:"deps"`
	Recipe  string            `yaml:"recipe"`
	Message string            `yaml:"message"`
	Phony   bool              `yaml:"phony"`
	Path    string            `yaml:"path"`
	Options map[string]string `yaml:"options"`
	Env     map[string]string `yaml:"env"`
}
