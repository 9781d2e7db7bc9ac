package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func writeProject(t *testing.T, kilnfile string, files ...string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, domain.BuildFileName), []byte(kilnfile), 0o600))
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
	return root
}

func newLoader(t *testing.T) *config.Loader {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	return config.NewLoader(log, fs.NewResolver(fs.NewWalker()))
}

const cProject = `
version: "1"
default: app
vars:
  cc: cc
  cflags: -O2
sources: ["src/*.c"]
rules:
  .o:
    recipe: "{cc} {cflags} -c {src} -o {tgt}"
    message: "CC {tgt}"
targets:
  a.o: {deps: [src/a.c]}
  b.o: {deps: [src/b.c], options: {cflags: -O0}}
  app:
    deps: [a.o, b.o]
    recipe: "{cc} -o {tgt} {deps}"
    message: "LD {tgt}"
    env: {LANG: C}
  all: {phony: true, deps: [app]}
`

func TestLoader_Load(t *testing.T) {
	root := writeProject(t, cProject, "src/a.c", "src/b.c")

	g, err := newLoader(t).Load(filepath.Join(root, domain.BuildFileName))
	require.NoError(t, err)

	assert.Equal(t, root, g.Root())
	assert.Equal(t, "app", g.Default())
	assert.Equal(t, 6, g.Len())

	src, err := g.Lookup("src/a.c")
	require.NoError(t, err)
	assert.True(t, src.IsFile)
	assert.False(t, src.HasRecipe())

	ao, err := g.Lookup("a.o")
	require.NoError(t, err)
	cmd, err := g.Expand(ao, ao.Recipe)
	require.NoError(t, err)
	assert.Equal(t, "cc -O2 -c src/a.c -o a.o", cmd)
	msg, err := g.Expand(ao, ao.Message)
	require.NoError(t, err)
	assert.Equal(t, "CC a.o", msg)

	bo, err := g.Lookup("b.o")
	require.NoError(t, err)
	cmd, err = g.Expand(bo, bo.Recipe)
	require.NoError(t, err)
	assert.Equal(t, "cc -O0 -c src/b.c -o b.o", cmd)

	app, err := g.Lookup("app")
	require.NoError(t, err)
	cmd, err = g.Expand(app, app.Recipe)
	require.NoError(t, err)
	assert.Equal(t, "cc -o app a.o b.o", cmd)
	assert.Equal(t, map[string]string{"LANG": "C"}, app.Env)

	all, err := g.Lookup("all")
	require.NoError(t, err)
	assert.False(t, all.IsFile)
}

func TestLoader_DeclarationReplacesSource(t *testing.T) {
	root := writeProject(t, `
sources: ["*.h"]
targets:
  config.h: {recipe: "./gen > {tgt}"}
`, "config.h", "util.h")

	g, err := newLoader(t).Load(filepath.Join(root, domain.BuildFileName))
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	gen, err := g.Lookup("config.h")
	require.NoError(t, err)
	assert.True(t, gen.HasRecipe())
}

func TestLoader_ImplicitSources(t *testing.T) {
	root := writeProject(t, `
targets:
  a.o: {deps: [a.c], recipe: "cc -c {src} -o {tgt}"}
`, "a.c")

	g, err := newLoader(t).Load(filepath.Join(root, domain.BuildFileName))
	require.NoError(t, err)
	assert.True(t, g.Has(domain.NewName("a.c")))
}

func TestLoader_CustomPath(t *testing.T) {
	root := writeProject(t, `
rules:
  .o: {recipe: "cc -c {src} -o {tgt}"}
targets:
  obj: {path: build/./a.o, deps: [a.c]}
`, "a.c")

	g, err := newLoader(t).Load(filepath.Join(root, domain.BuildFileName))
	require.NoError(t, err)

	obj, err := g.Lookup("obj")
	require.NoError(t, err)
	assert.Equal(t, "build/a.o", obj.Path)
	cmd, err := g.Expand(obj, obj.Recipe)
	require.NoError(t, err)
	assert.Equal(t, "cc -c a.c -o build/a.o", cmd)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name     string
		kilnfile string
		files    []string
		want     error
	}{
		{"invalid yaml", "targets: [", nil, domain.ErrConfigParse},
		{"unknown field", "targetz: {}", nil, domain.ErrConfigParse},
		{"unsupported version", `version: "2"`, nil, domain.ErrConfigParse},
		{"unknown dependency", "targets:\n  app: {deps: [nope.o], recipe: ld}", nil, domain.ErrUnknownTarget},
		{"malformed recipe", "targets:\n  app: {recipe: \"cc {tgt\"}", nil, domain.ErrMalformedRecipe},
		{"unknown placeholder", "targets:\n  app: {recipe: \"{linker} -o {tgt}\"}", nil, domain.ErrMalformedRecipe},
		{"bad rule suffix", "rules:\n  o: {recipe: cc}", nil, domain.ErrConfigParse},
		{"missing literal source", "sources: [main.c]", nil, domain.ErrSourceNotFound},
		{"phony with path", "targets:\n  all: {phony: true, path: x}", nil, domain.ErrConfigParse},
		{"whitespace name", "targets:\n  \"a b\": {recipe: x}", nil, domain.ErrInvalidTargetName},
		{"undeclared default", "default: app\ntargets:\n  lib: {recipe: x}", nil, domain.ErrUnknownTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeProject(t, tt.kilnfile, tt.files...)
			_, err := newLoader(t).Load(filepath.Join(root, domain.BuildFileName))
			require.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsConfigError(err))
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := newLoader(t).Load(filepath.Join(t.TempDir(), domain.BuildFileName))
	require.ErrorIs(t, err, domain.ErrConfigRead)
}

func TestLoader_CyclesAreLeftToTheBuild(t *testing.T) {
	root := writeProject(t, `
targets:
  a: {phony: true, deps: [b]}
  b: {phony: true, deps: [a]}
`)
	g, err := newLoader(t).Load(filepath.Join(root, domain.BuildFileName))
	require.NoError(t, err)
	require.ErrorIs(t, g.Validate(), domain.ErrCyclicDependency)
}

func TestLoader_Discover(t *testing.T) {
	root := writeProject(t, "targets: {}")
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	l := newLoader(t)
	got, err := l.Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, domain.BuildFileName), got)

	_, err = l.Discover(t.TempDir())
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoader_UsesResolverForSources(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockSourceResolver(ctrl)
	log := mocks.NewMockLogger(ctrl)

	root := writeProject(t, "version: \"1\"\nsources: [\"gen/**/*.c\"]\n")
	resolver.EXPECT().ResolveSources([]string{"gen/**/*.c"}, root).Return([]string{"gen/x/a.c", "gen/b.c"}, nil)

	g, err := config.NewLoader(log, resolver).Load(filepath.Join(root, domain.BuildFileName))
	require.NoError(t, err)
	assert.True(t, g.Has(domain.NewName("gen/x/a.c")))
	assert.True(t, g.Has(domain.NewName("gen/b.c")))

	resolver.EXPECT().ResolveSources(gomock.Any(), root).Return(nil, domain.ErrInvalidSourcePattern)
	_, err = config.NewLoader(log, resolver).Load(filepath.Join(root, domain.BuildFileName))
	require.ErrorIs(t, err, domain.ErrInvalidSourcePattern)
}
