package domain

import "unique"

// Name is an interned target key.
// Keys and paths repeat across dependency lists, so they are stored once and compared by handle.
type Name struct {
	h unique.Handle[string]
}

// NewName interns s and returns its Name.
func NewName(s string) Name {
	return Name{h: unique.Make(s)}
}

// String returns the underlying key.
func (n Name) String() string {
	var zero unique.Handle[string]
	if n.h == zero {
		return ""
	}
	return n.h.Value()
}

// IsZero reports whether n was never assigned.
func (n Name) IsZero() bool {
	var zero unique.Handle[string]
	return n.h == zero
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(text []byte) error {
	n.h = unique.Make(string(text))
	return nil
}

// Names interns every string in strs, keeping order.
func Names(strs ...string) []Name {
	if len(strs) == 0 {
		return nil
	}
	res := make([]Name, len(strs))
	for i, s := range strs {
		res[i] = NewName(s)
	}
	return res
}
