// Package nodepath implements NodePath: the canonical, slash-separated
// hierarchical key used to address nodes in the responder tree.
package nodepath

import (
	"fmt"
	"strings"
)

// illegalChars are forbidden in any single path segment.
const illegalChars = `/\?*:|"<>`

// Path is a canonical absolute node path: a single leading slash, no
// trailing slash (except the root "/"), and no empty or duplicate
// separators between segments.
type Path struct {
	s string
}

// Root is the path "/".
func Root() Path { return Path{s: "/"} }

// Parse validates and canonicalizes raw into a Path. raw must start with
// "/"; duplicate interior slashes are collapsed. Segment names must be
// non-empty and must not contain any of ` / \ ? * : | " < > `.
func Parse(raw string) (Path, error) {
	if raw == "" || raw[0] != '/' {
		return Path{}, fmt.Errorf("nodepath: path %q must start with '/'", raw)
	}
	if raw == "/" {
		return Root(), nil
	}
	segs, err := splitValidate(raw)
	if err != nil {
		return Path{}, err
	}
	if len(segs) == 0 {
		return Root(), nil
	}
	return Path{s: "/" + strings.Join(segs, "/")}, nil
}

// MustParse is Parse but panics on error; intended for constant literal
// paths known at compile time (e.g. "/sys/status").
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func splitValidate(raw string) ([]string, error) {
	parts := strings.Split(raw, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue // collapse duplicate/leading/trailing separators
		}
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("nodepath: segment %q is empty or whitespace-only", p)
		}
		if strings.ContainsAny(p, illegalChars) {
			return nil, fmt.Errorf("nodepath: segment %q contains an illegal character (one of %s)", p, illegalChars)
		}
		segs = append(segs, p)
	}
	return segs, nil
}

// String returns the canonical path string.
func (p Path) String() string { return p.s }

// IsRoot reports whether p is the root path "/".
func (p Path) IsRoot() bool { return p.s == "/" }

// IsZero reports whether p is the unparsed zero value.
func (p Path) IsZero() bool { return p.s == "" }

// Segments returns the path's name components in order; empty for root.
func (p Path) Segments() []string {
	if p.IsRoot() || p.IsZero() {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p.s, "/"), "/")
}

// Name returns the last segment of p; empty for the root path.
func (p Path) Name() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the path without its last segment. Parent of root is
// root.
func (p Path) Parent() Path {
	segs := p.Segments()
	if len(segs) <= 1 {
		return Root()
	}
	return Path{s: "/" + strings.Join(segs[:len(segs)-1], "/")}
}

// Join appends name as a new final segment, validating it the same way
// Parse validates segments.
func (p Path) Join(name string) (Path, error) {
	if name == "" || strings.TrimSpace(name) == "" {
		return Path{}, fmt.Errorf("nodepath: empty name")
	}
	if strings.ContainsAny(name, illegalChars) {
		return Path{}, fmt.Errorf("nodepath: name %q contains an illegal character", name)
	}
	if p.IsRoot() || p.IsZero() {
		return Path{s: "/" + name}, nil
	}
	return Path{s: p.s + "/" + name}, nil
}

// Rebase removes base as a prefix of p. Returns ("/" , true) if p equals
// base exactly, the suffix path and true if base is a strict prefix of
// p on a segment boundary, or (zero, false) on any mismatch.
func (p Path) Rebase(base Path) (Path, bool) {
	if p.s == base.s {
		return Root(), true
	}
	if base.IsRoot() {
		return p, true
	}
	prefix := base.s + "/"
	if !strings.HasPrefix(p.s, prefix) {
		return Path{}, false
	}
	return Path{s: "/" + strings.TrimPrefix(p.s, prefix)}, true
}

// Equal reports whether p and other are the same canonical path.
func (p Path) Equal(other Path) bool { return p.s == other.s }

// MarshalText implements encoding.TextMarshaler so Path can be used
// directly as a map key or struct field in JSON-encoded structures.
func (p Path) MarshalText() ([]byte, error) { return []byte(p.s), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
