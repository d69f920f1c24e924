// Package docedit implements format-preserving editors for JSON and YAML
// documents: given a byte slice and a dotted path, it can read, set, or
// remove a value while disturbing as little of the surrounding text
// (comments, key order, indentation) as possible.
package docedit

import "strings"

// Path is a sequence of object-key segments, e.g. []string{"scripts",
// "build"} for the "build" field of the "scripts" object.
type Path []string

// ParsePath splits a dotted path string into segments. A literal dot inside
// a segment is not supported; callers needing that should build a Path
// directly.
func ParsePath(dotted string) Path {
	if dotted == "" {
		return Path{}
	}
	return strings.Split(dotted, ".")
}

// String renders the path back to dotted form.
func (p Path) String() string { return strings.Join(p, ".") }

// Parent returns the path with its last segment removed, and ok=false for
// the root path.
func (p Path) Parent() (Path, bool) {
	if len(p) == 0 {
		return nil, false
	}
	return p[:len(p)-1], true
}

// Last returns the final segment, or "" for the root path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// IsDirectChildOf reports whether p is exactly one segment longer than
// parent and shares its prefix.
func (p Path) IsDirectChildOf(parent Path) bool {
	if len(p) != len(parent)+1 {
		return false
	}
	for i := range parent {
		if p[i] != parent[i] {
			return false
		}
	}
	return true
}

// key renders the path as a single map key, used internally to index the
// byte-offset table.
func (p Path) key() string { return p.String() }
