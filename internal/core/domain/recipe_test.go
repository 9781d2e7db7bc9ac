package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestParseRecipe(t *testing.T) {
	tests := []struct {
		name         string
		template     string
		placeholders []string
		wantErr      bool
	}{
		{name: "plain command", template: "make -C sub"},
		{name: "builtins", template: "cc -c {src} -o {tgt}", placeholders: []string{"src", "tgt"}},
		{name: "repeated placeholder", template: "{tgt} {tgt}", placeholders: []string{"tgt"}},
		{name: "escaped braces", template: "awk '{{print $1}}' {src}", placeholders: []string{"src"}},
		{name: "dotted option", template: "{opt.level}", placeholders: []string{"opt.level"}},
		{name: "empty placeholder", template: "cc {}", wantErr: true},
		{name: "unterminated", template: "cc {src", wantErr: true},
		{name: "stray closing brace", template: "cc }", wantErr: true},
		{name: "invalid name", template: "{a b}", wantErr: true},
		{name: "leading digit", template: "{1x}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := domain.ParseRecipe(tt.template)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrMalformedRecipe)
				assert.True(t, domain.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.template, r.String())
			assert.Equal(t, tt.placeholders, r.Placeholders())
		})
	}
}

func TestRecipe_Expand(t *testing.T) {
	r := domain.MustParseRecipe("awk '{{print}}' {src} > {tgt}")
	vals := map[string]string{"src": "in.txt", "tgt": "out.txt"}

	got, err := r.Expand(func(name string) (string, bool) {
		v, ok := vals[name]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, "awk '{print}' in.txt > out.txt", got)
}

func TestRecipe_IsEmpty(t *testing.T) {
	assert.True(t, domain.Recipe{}.IsEmpty())
	assert.True(t, domain.MustParseRecipe("   ").IsEmpty())
	assert.False(t, domain.MustParseRecipe("true").IsEmpty())
}

func TestMustParseRecipe_Panics(t *testing.T) {
	assert.Panics(t, func() { domain.MustParseRecipe("{") })
}
