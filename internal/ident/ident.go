// Package ident implements package identifiers: an optional npm scope plus
// a bare name (e.g. "@babel/core" or "lodash").
package ident

import (
	"fmt"
	"regexp"
)

// identPattern matches "@scope/name" or "name". Both halves allow the
// characters npm accepts in a package name segment.
var identPattern = regexp.MustCompile(`^(?:(@[a-z0-9][a-z0-9._-]*)/)?([a-z0-9][a-z0-9._-]*)$`)

// Ident is a package identifier: an optional scope and a name.
//
// Equality is structural: two Idents with the same Scope and Name are the
// same ident regardless of how they were parsed.
type Ident struct {
	Scope string // includes the leading "@", empty if unscoped
	Name  string
}

// Parse parses an ident from its file-string form ("@scope/name" or "name").
func Parse(raw string) (Ident, error) {
	m := identPattern.FindStringSubmatch(raw)
	if m == nil {
		return Ident{}, fmt.Errorf("invalid ident: %q", raw)
	}
	return Ident{Scope: m[1], Name: m[2]}, nil
}

// New builds an Ident directly, for callers that already have separate
// scope/name components (e.g. from a registry response).
func New(scope, name string) Ident {
	return Ident{Scope: scope, Name: name}
}

// String renders the ident back to its canonical file-string form. Parse and
// String round-trip for every constructible Ident.
func (i Ident) String() string {
	if i.Scope == "" {
		return i.Name
	}
	return i.Scope + "/" + i.Name
}

// IsScoped reports whether the ident carries an npm scope.
func (i Ident) IsScoped() bool {
	return i.Scope != ""
}

// Equal reports structural equality.
func (i Ident) Equal(other Ident) bool {
	return i.Scope == other.Scope && i.Name == other.Name
}

// Less provides a total order over idents, used to produce deterministic
// sorted output (lockfile serialization, resolution dependency hashing).
func (i Ident) Less(other Ident) bool {
	return i.String() < other.String()
}
