package nodepath

import "strings"

// Pattern is a slash-separated glob over node names where "*" matches
// exactly one segment, used to register node-creation callbacks (see
// the node package's Registry.OnMatch).
type Pattern struct {
	segs []string
}

// ParsePattern parses a pattern string ("/devices/*/status"). The empty
// pattern is an error. "/" parses to a pattern that matches only the
// root, which callers that require a non-trivial pattern ignore
// (node-creation callbacks on a root-only pattern have no effect per
// spec).
func ParsePattern(raw string) (Pattern, error) {
	p, err := Parse(raw)
	if err == nil {
		return Pattern{segs: p.Segments()}, nil
	}
	// Patterns reuse path segment validation except "*" is legal.
	if raw == "" || raw[0] != '/' {
		return Pattern{}, err
	}
	parts := strings.Split(raw, "/")
	segs := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			continue
		}
		if seg == "*" {
			segs = append(segs, seg)
			continue
		}
		if strings.ContainsAny(seg, illegalChars) {
			return Pattern{}, err
		}
		segs = append(segs, seg)
	}
	return Pattern{segs: segs}, nil
}

// MatchesOnlyRoot reports whether the pattern can only ever match the
// root path (i.e. it has no segments).
func (p Pattern) MatchesOnlyRoot() bool { return len(p.segs) == 0 }

// Match reports whether path matches the pattern: equal segment count,
// "*" matching any single segment, literal segments matching exactly.
func (p Pattern) Match(path Path) bool {
	segs := path.Segments()
	if len(segs) != len(p.segs) {
		return false
	}
	for i, ps := range p.segs {
		if ps == "*" {
			continue
		}
		if ps != segs[i] {
			return false
		}
	}
	return true
}

// String returns the pattern's source form, used as a registry key so
// re-registration of the same pattern string overwrites the prior
// callback (spec: "Exactly one callback per pattern is retained").
func (p Pattern) String() string {
	if len(p.segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segs, "/")
}
