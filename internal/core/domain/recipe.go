package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// Built-in placeholders available to every recipe.
const (
	PlaceholderTarget = "tgt"
	PlaceholderSource = "src"
	PlaceholderDeps   = "deps"
)

// Recipe is a parsed command template.
//
// Placeholders are written {name}; {{ and }} produce literal braces.
type Recipe struct {
	raw      string
	segments []segment
}

type segment struct {
	text string
	ref  bool
}

// ParseRecipe parses a template, rejecting unbalanced braces and empty or invalid placeholder names.
func ParseRecipe(s string) (Recipe, error) {
	r := Recipe{raw: s}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			r.segments = append(r.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return Recipe{}, malformed(s, "unterminated placeholder")
			}
			name := s[i+1 : i+1+end]
			if !validPlaceholder(name) {
				return Recipe{}, zerr.With(malformed(s, "invalid placeholder name"), "placeholder", name)
			}
			flush()
			r.segments = append(r.segments, segment{text: name, ref: true})
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return Recipe{}, malformed(s, "unmatched closing brace")
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	return r, nil
}

// MustParseRecipe is like ParseRecipe but panics on error. It is meant for constant templates.
func MustParseRecipe(s string) Recipe {
	r, err := ParseRecipe(s)
	if err != nil {
		panic(err)
	}
	return r
}

func malformed(template, reason string) error {
	return zerr.With(zerr.Wrap(ErrMalformedRecipe, reason), "template", template)
}

func validPlaceholder(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && ((c >= '0' && c <= '9') || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// IsEmpty reports whether the template does nothing when run.
func (r Recipe) IsEmpty() bool {
	return strings.TrimSpace(r.raw) == ""
}

// String returns the template as written.
func (r Recipe) String() string {
	return r.raw
}

// Placeholders returns the distinct placeholder names in order of first use.
func (r Recipe) Placeholders() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, seg := range r.segments {
		if !seg.ref {
			continue
		}
		if _, ok := seen[seg.text]; ok {
			continue
		}
		seen[seg.text] = struct{}{}
		names = append(names, seg.text)
	}
	return names
}

// Expand substitutes every placeholder using lookup.
// A placeholder lookup cannot resolve is an ErrMalformedRecipe.
func (r Recipe) Expand(lookup func(name string) (string, bool)) (string, error) {
	var b strings.Builder
	b.Grow(len(r.raw))
	for _, seg := range r.segments {
		if !seg.ref {
			b.WriteString(seg.text)
			continue
		}
		v, ok := lookup(seg.text)
		if !ok {
			return "", zerr.With(malformed(r.raw, "unknown placeholder"), "placeholder", seg.text)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
