// Package locator implements references and locators: the "what a package
// actually is" half of the identifier model (see internal/descriptor for
// the "what was asked for" half).
package locator

import (
	"fmt"
	"strings"

	"github.com/quillpm/quill/internal/ident"
)

// Kind tags which variant a Reference holds.
type Kind int

const (
	// KindShorthandSemver is a bare "1.2.3" reference.
	KindShorthandSemver Kind = iota
	// KindRegistry is "npm:1.2.3", optionally carrying a non-conventional
	// tarball URL when the registry response didn't point at the
	// reconstructable location.
	KindRegistry
	// KindURL is an arbitrary tarball URL.
	KindURL
	// KindFolder is a local on-disk directory reference.
	KindFolder
	// KindTarball is a local on-disk tarball reference.
	KindTarball
	// KindLink is a "link:" reference: points at a directory, never fetched.
	KindLink
	// KindPortal is a "portal:" reference: points at a directory whose
	// dependencies are still resolved independently.
	KindPortal
	// KindWorkspaceIdent is a reference into the project's own workspace
	// table, identified by path.
	KindWorkspaceIdent
	// KindPatch wraps an inner locator plus the patch file applied to it.
	KindPatch
	// KindGit is a reference pinned to a specific commit of a cloned repo.
	KindGit
	// KindVirtual wraps an inner reference with a peer-dependency hash; it
	// is materialized only during resolution and is never persisted.
	KindVirtual
)

// Reference is a resolved coordinate: a specific instance of a package,
// as opposed to a Descriptor's "what was asked for".
type Reference struct {
	Kind Kind

	// KindShorthandSemver / KindRegistry
	Version string
	// KindRegistry, when the registry couldn't reconstruct the tarball URL
	// from (registry, ident, version) alone.
	NonConventionalURL string

	// KindURL
	URL string

	// KindFolder / KindTarball / KindLink / KindPortal
	Path string

	// KindWorkspaceIdent
	WorkspacePath string

	// KindPatch
	Inner      *Locator
	PatchPaths []string

	// KindGit
	Repo    string
	Commit  string
	Prepare string

	// KindVirtual
	VirtualInner *Reference
	VirtualHash  string
}

// Locator is a package identity: an Ident paired with a Reference.
type Locator struct {
	Ident     ident.Ident
	Reference Reference
}

// New builds a locator from an ident and a reference.
func New(id ident.Ident, ref Reference) Locator {
	return Locator{Ident: id, Reference: ref}
}

// Equal reports structural equality between two locators.
func (l Locator) Equal(other Locator) bool {
	return l.ToFileString() == other.ToFileString()
}

// Physical returns the non-virtual locator a virtual locator wraps. It
// returns l unchanged if l is not virtual.
func (l Locator) Physical() Locator {
	if l.Reference.Kind != KindVirtual {
		return l
	}
	return Locator{Ident: l.Ident, Reference: *l.Reference.VirtualInner}
}

// IsVirtual reports whether l was materialized during peer virtualization.
func (l Locator) IsVirtual() bool {
	return l.Reference.Kind == KindVirtual
}

// ToFileString renders the reference in its persisted/lockfile form, e.g.
// "npm:1.2.3", "workspace:packages/foo", "patch:lodash@npm%3A4.17.21#./patch".
func (r Reference) ToFileString() string {
	switch r.Kind {
	case KindShorthandSemver:
		return r.Version
	case KindRegistry:
		if r.NonConventionalURL != "" {
			return fmt.Sprintf("npm:%s::%s", r.Version, r.NonConventionalURL)
		}
		return "npm:" + r.Version
	case KindURL:
		return r.URL
	case KindFolder:
		return "file:" + r.Path
	case KindTarball:
		return "file:" + r.Path
	case KindLink:
		return "link:" + r.Path
	case KindPortal:
		return "portal:" + r.Path
	case KindWorkspaceIdent:
		return "workspace:" + r.WorkspacePath
	case KindPatch:
		inner := ""
		if r.Inner != nil {
			inner = urlEncode(r.Inner.ToFileString())
		}
		return fmt.Sprintf("patch:%s#%s", inner, strings.Join(r.PatchPaths, "&"))
	case KindGit:
		return fmt.Sprintf("%s#commit=%s", r.Repo, r.Commit)
	case KindVirtual:
		inner := ""
		if r.VirtualInner != nil {
			inner = r.VirtualInner.ToFileString()
		}
		return fmt.Sprintf("virtual:%s#%s", r.VirtualHash, inner)
	default:
		return ""
	}
}

// ToFileString renders the full locator ("ident@reference").
func (l Locator) ToFileString() string {
	return fmt.Sprintf("%s@%s", l.Ident.String(), l.Reference.ToFileString())
}

// ToHumanString renders a locator the way a diagnostic message would show
// it: ident and a human-friendly reference summary, omitting hashes.
func (l Locator) ToHumanString() string {
	switch l.Reference.Kind {
	case KindShorthandSemver, KindRegistry:
		return fmt.Sprintf("%s@%s", l.Ident.String(), l.Reference.Version)
	case KindVirtual:
		phys := l.Physical()
		return phys.ToHumanString() + " [virtual]"
	case KindWorkspaceIdent:
		return fmt.Sprintf("%s@workspace:%s", l.Ident.String(), l.Reference.WorkspacePath)
	default:
		return l.ToFileString()
	}
}

func urlEncode(s string) string {
	return strings.ReplaceAll(s, ":", "%3A")
}

// String implements fmt.Stringer so locators print sensibly in logs/errors.
func (l Locator) String() string {
	return l.ToFileString()
}
