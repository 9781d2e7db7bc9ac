// Package config loads the build description and the engine settings.
package config

import (
	"bytes"
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var _ ports.ConfigLoader = (*Loader)(nil)

// Loader implements ports.ConfigLoader for kiln.yaml files.
type Loader struct {
	Logger   ports.Logger
	Resolver ports.SourceResolver
}

// NewLoader creates a new Loader.
func NewLoader(logger ports.Logger, resolver ports.SourceResolver) *Loader {
	return &Loader{Logger: logger, Resolver: resolver}
}

// Discover returns the nearest kiln.yaml in cwd or one of its parents.
func (l *Loader) Discover(cwd string) (string, error) {
	dir, err := filepath.Abs(cwd)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to resolve working directory"), "cwd", cwd)
	}

	for {
		candidate := filepath.Join(dir, domain.BuildFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			err := zerr.Wrap(domain.ErrConfigNotFound, "no "+domain.BuildFileName+" in any parent directory")
			return "", zerr.With(err, "cwd", cwd)
		}
		dir = parent
	}
}

// Load reads the build description at path and returns its target graph.
// The graph is checked for unknown references and placeholders, not for cycles.
func (l *Loader) Load(path string) (*domain.Graph, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrConfigRead, err.Error()), "path", path)
	}

	var kf Kilnfile
	if err := readAndDecodeYAML(abs, &kf); err != nil {
		return nil, err
	}
	if kf.Version != "" && kf.Version != SupportedVersion {
		err := zerr.With(zerr.Wrap(domain.ErrConfigParse, "unsupported version"), "version", kf.Version)
		return nil, zerr.With(err, "path", abs)
	}

	g := domain.NewGraph()
	g.SetRoot(filepath.Dir(abs))
	g.SetDefault(kf.Default)
	g.SetVars(kf.Vars)

	if err := l.addSources(g, kf.Sources); err != nil {
		return nil, zerr.With(err, "path", abs)
	}

	rules, err := parseRules(kf.Rules)
	if err != nil {
		return nil, zerr.With(err, "path", abs)
	}

	for _, name := range slices.Sorted(maps.Keys(kf.Targets)) {
		t, err := buildTarget(name, kf.Targets[name], rules)
		if err != nil {
			return nil, zerr.With(err, "path", abs)
		}
		if t.IsFile && t.Recipe.IsEmpty() && len(t.Deps) > 0 {
			l.Logger.Warn("target " + name + " has dependencies but no recipe")
		}
		// A declaration overrides a target discovered through sources.
		g.Replace(t)
	}

	if err := addImplicitSources(g); err != nil {
		return nil, zerr.With(err, "path", abs)
	}
	if err := validate(g); err != nil {
		return nil, zerr.With(err, "path", abs)
	}
	return g, nil
}

func (l *Loader) addSources(g *domain.Graph, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	files, err := l.Resolver.ResolveSources(patterns, g.Root())
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := g.Add(domain.NewFileTarget(f)); err != nil {
			return err
		}
	}
	return nil
}

// addImplicitSources registers undeclared dependencies that exist on disk as
// plain file targets.
func addImplicitSources(g *domain.Graph) error {
	var missing []domain.Name
	for t := range g.All() {
		for _, dep := range t.Deps {
			if !g.Has(dep) && !slices.Contains(missing, dep) {
				missing = append(missing, dep)
			}
		}
	}

	for _, dep := range missing {
		src := domain.NewFileTarget(dep.String())
		info, err := os.Stat(g.FilePath(src))
		if err != nil || info.IsDir() {
			continue
		}
		if err := g.Add(src); err != nil {
			return err
		}
	}
	return nil
}

type rule struct {
	recipe  domain.Recipe
	message domain.Recipe
}

func parseRules(dtos map[string]RuleDTO) (map[string]rule, error) {
	rules := make(map[string]rule, len(dtos))
	for suffix, dto := range dtos {
		if !strings.HasPrefix(suffix, ".") {
			err := zerr.Wrap(domain.ErrConfigParse, "rule suffix must start with a dot")
			return nil, zerr.With(err, "rule", suffix)
		}
		recipe, err := domain.ParseRecipe(dto.Recipe)
		if err != nil {
			return nil, zerr.With(err, "rule", suffix)
		}
		message, err := domain.ParseRecipe(dto.Message)
		if err != nil {
			return nil, zerr.With(err, "rule", suffix)
		}
		rules[suffix] = rule{recipe: recipe, message: message}
	}
	return rules, nil
}

func buildTarget(name string, dto TargetDTO, rules map[string]rule) (*domain.Target, error) {
	if err := validateTargetName(name); err != nil {
		return nil, err
	}

	var t *domain.Target
	if dto.Phony {
		if dto.Path != "" {
			err := zerr.Wrap(domain.ErrConfigParse, "phony targets have no path")
			return nil, zerr.With(err, "target", name)
		}
		t = domain.NewPhonyTarget(name, dto.Deps...)
	} else {
		t = domain.NewFileTarget(name, dto.Deps...)
		if dto.Path != "" {
			t.Path = filepath.ToSlash(filepath.Clean(dto.Path))
		}
	}

	recipe, err := domain.ParseRecipe(dto.Recipe)
	if err != nil {
		return nil, zerr.With(err, "target", name)
	}
	message, err := domain.ParseRecipe(dto.Message)
	if err != nil {
		return nil, zerr.With(err, "target", name)
	}

	if recipe.IsEmpty() && t.IsFile {
		if r, ok := rules[filepath.Ext(t.Path)]; ok {
			recipe = r.recipe
			if message.IsEmpty() {
				message = r.message
			}
		}
	}

	t.Recipe = recipe
	t.Message = message
	t.Options = maps.Clone(dto.Options)
	t.Env = maps.Clone(dto.Env)
	return t, nil
}

func validate(g *domain.Graph) error {
	for t := range g.All() {
		if err := g.CheckPlaceholders(t); err != nil {
			return err
		}
	}
	if err := g.CheckReferences(); err != nil {
		return err
	}
	if def := g.Default(); def != "" && def != domain.AllTarget && !g.Has(domain.NewName(def)) {
		err := zerr.Wrap(domain.ErrUnknownTarget, "default target is not declared")
		return zerr.With(err, "target", def)
	}
	return nil
}

func readAndDecodeYAML[T any](path string, target *T) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by the user
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrConfigRead, err.Error()), "path", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return zerr.With(zerr.Wrap(domain.ErrConfigParse, err.Error()), "path", path)
	}
	return nil
}

func validateTargetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return zerr.Wrap(domain.ErrInvalidTargetName, "target name must not be empty")
	}
	if strings.ContainsAny(name, " \t\n") {
		return zerr.With(zerr.Wrap(domain.ErrInvalidTargetName, "target name must not contain whitespace"), "target", name)
	}
	return nil
}
