package entry

import (
	"strings"
	"sync"
)

// Tag is an interned string atom. Equality between two Tags from the same
// Interner is reference-equal (pointer comparison); Tags from different
// Interners are never equal even if their text matches, since Interner is
// the context identity the spec calls for.
type Tag struct {
	text string
}

// String returns the tag's text.
func (t *Tag) String() string {
	if t == nil {
		return ""
	}
	return t.text
}

// Interner hands out a single *Tag per distinct string within its context.
// Safe for concurrent use.
type Interner struct {
	mu    sync.Mutex
	atoms map[string]*Tag
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{atoms: make(map[string]*Tag)}
}

// Intern returns the canonical *Tag for s, creating it on first use.
func (in *Interner) Intern(s string) *Tag {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.atoms[s]; ok {
		return t
	}
	t := &Tag{text: s}
	in.atoms[s] = t
	return t
}

// Set is an interned set of Tags. Order is insertion order; two Sets built
// from the same Interner compare element-wise by pointer.
type Set []*Tag

// Add returns a new Set with t appended if not already present (by
// pointer identity).
func (s Set) Add(t *Tag) Set {
	for _, existing := range s {
		if existing == t {
			return s
		}
	}
	return append(append(Set{}, s...), t)
}

// Equal reports whether s and o contain the same Tags by pointer identity,
// ignoring order.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	seen := make(map[*Tag]bool, len(s))
	for _, t := range s {
		seen[t] = true
	}
	for _, t := range o {
		if !seen[t] {
			return false
		}
	}
	return true
}

// Canonical renders the set as its persistence representation: the tags'
// text joined by commas in set order.
func (s Set) Canonical() string {
	if len(s) == 0 {
		return ""
	}
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.text
	}
	return strings.Join(parts, ",")
}

// ParseCanonical reconstructs a Set from its canonical persisted string,
// interning each atom against in.
func ParseCanonical(in *Interner, canonical string) Set {
	if canonical == "" {
		return nil
	}
	parts := strings.Split(canonical, ",")
	set := make(Set, 0, len(parts))
	for _, p := range parts {
		set = append(set, in.Intern(p))
	}
	return set
}
