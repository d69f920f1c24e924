// Package descriptor implements ranges and descriptors: what a dependent
// *asks for*, as opposed to internal/locator's "what a package *is*".
//
// Matching is regex-pattern based, per variant, tried in priority order —
// the first variant whose named captures satisfy its field shape wins. The
// fallback variant (KindTag) captures the raw input verbatim when nothing
// more specific matches, so Parse only errors on the empty string.
package descriptor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind tags which variant a Range holds.
type Kind int

const (
	// KindSemver is a plain semver constraint: "^1.2.3", "~1.0.0", "1.x".
	KindSemver Kind = iota
	// KindTag is a symbolic dist-tag such as "latest" — also the fallback
	// variant when nothing else matches.
	KindTag
	// KindRegistrySemver is "npm:<ident>@<range>", used to alias a
	// dependency under a different local name.
	KindRegistrySemver
	// KindRegistryTag is "npm:<ident>@<tag>".
	KindRegistryTag
	// KindWorkspaceMagic is one of the sentinel "workspace:*" / "workspace:^"
	// / "workspace:~" / "workspace:" (exact) forms.
	KindWorkspaceMagic
	// KindWorkspaceSemver is "workspace:<semver-range>".
	KindWorkspaceSemver
	// KindWorkspaceIdent is "workspace:<package-name>".
	KindWorkspaceIdent
	// KindWorkspacePath is "workspace:<relative-path>".
	KindWorkspacePath
	// KindURL is an arbitrary tarball URL.
	KindURL
	// KindTarball is a local path to a .tgz/.tar.gz file.
	KindTarball
	// KindFolder is a local path to a directory.
	KindFolder
	// KindLink is "link:<path>".
	KindLink
	// KindPortal is "portal:<path>".
	KindPortal
	// KindPatch wraps an inner range with the patch file(s) to apply.
	KindPatch
	// KindGit is a repo + optional tree-ish + optional prepare params.
	KindGit
	// KindVirtual wraps another range with a peer hash; constructed only
	// during peer virtualization, never parsed from or printed to a file
	// a user edits.
	KindVirtual
	// KindMissingPeer is the sentinel for "declared peer but nobody
	// supplied it". Constructed programmatically, never parsed.
	KindMissingPeer
)

// must_bind ranges (per the parent-binding rule): a descriptor using one of
// these needs a parent locator to be disambiguated, because its resolution
// depends on where the dependency was declared, not just its ident/range.
func (k Kind) mustBind() bool {
	switch k {
	case KindLink, KindPortal, KindPatch, KindFolder, KindTarball:
		return true
	default:
		return false
	}
}

// Range is a constraint on candidate versions, or one of the non-registry
// protocol ranges (url/tarball/folder/link/portal/patch/git/workspace-*).
type Range struct {
	Kind Kind

	// KindSemver / KindRegistrySemver / KindWorkspaceSemver
	Constraint string

	// KindTag / KindRegistryTag
	Tag string

	// KindRegistrySemver / KindRegistryTag: the aliased ident, as a raw
	// string (internal/ident.Parse it at the resolver boundary).
	AliasIdent string

	// KindWorkspaceMagic: "*", "^", "~", or "" for an exact pin.
	Magic string
	// KindWorkspaceIdent
	WorkspaceIdent string
	// KindWorkspacePath
	WorkspacePath string

	// KindURL / KindTarball / KindFolder / KindLink / KindPortal
	Path string

	// KindPatch
	Inner          *Range
	PatchPath      string
	SemverExclusive string // non-empty: patch applies only to this version

	// KindGit
	Repo    string
	TreeIsh string
	Prepare string

	// KindVirtual
	VirtualInner *Range
	VirtualHash  string
}

// MustBind reports whether a Descriptor using this range needs to carry a
// parent locator to be uniquely identified.
func (r Range) MustBind() bool { return r.Kind.mustBind() }

var (
	patPatch           = regexp.MustCompile(`^patch:(?P<inner>[^#]+)#(?P<path>[^&]+)(?:&(?P<excl>.+))?$`)
	patGitHubShort     = regexp.MustCompile(`^github:(?P<repo>[^#]+)(?:#(?P<tree>.+))?$`)
	patGitExplicit     = regexp.MustCompile(`^git(?:\+(?P<proto>https?|ssh|file))?://(?P<rest>[^#]+)(?:#(?P<tree>.+))?$`)
	patGitDotGit       = regexp.MustCompile(`^(?P<repo>[^#]+\.git)(?:#(?P<tree>.+))?$`)
	patURL             = regexp.MustCompile(`^(?P<url>https?://.+)$`)
	patLink            = regexp.MustCompile(`^link:(?P<path>.+)$`)
	patPortal          = regexp.MustCompile(`^portal:(?P<path>.+)$`)
	patFileProto       = regexp.MustCompile(`^file:(?P<path>.+)$`)
	patTarballPath     = regexp.MustCompile(`^\.{0,2}/.*\.(tgz|tar\.gz)$|^[^:@/]+\.(tgz|tar\.gz)$`)
	patFolderPath      = regexp.MustCompile(`^(\.{1,2}/|/)(?P<path>.*)$`)
	patWorkspaceMagic  = regexp.MustCompile(`^workspace:(?P<magic>\*|\^|~)?$`)
	patWorkspaceProto  = regexp.MustCompile(`^workspace:(?P<rest>.+)$`)
	patRegistryAliased = regexp.MustCompile(`^npm:(?P<ident>(?:@[^/]+/)?[^@]+)@(?P<range>.+)$`)
	patVirtual         = regexp.MustCompile(`^virtual:(?P<hash>[0-9a-f]+)#(?P<inner>.+)$`)
)

// Parse parses a range from its file-string form. Parsing is partial: it
// returns a typed error only for inputs that cannot be a range at all
// (empty string). Everything else resolves to a concrete variant, with
// KindTag as the catch-all fallback.
func Parse(raw string) (Range, error) {
	if raw == "" {
		return Range{}, fmt.Errorf("descriptor: empty range")
	}

	if m := patVirtual.FindStringSubmatch(raw); m != nil {
		inner, err := Parse(m[2])
		if err != nil {
			return Range{}, err
		}
		return Range{Kind: KindVirtual, VirtualHash: m[1], VirtualInner: &inner}, nil
	}

	if m := patPatch.FindStringSubmatch(raw); m != nil {
		inner, err := Parse(urlDecode(m[1]))
		if err != nil {
			return Range{}, err
		}
		return Range{Kind: KindPatch, Inner: &inner, PatchPath: m[2], SemverExclusive: m[3]}, nil
	}

	if m := patWorkspaceMagic.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindWorkspaceMagic, Magic: m[1]}, nil
	}
	if m := patWorkspaceProto.FindStringSubmatch(raw); m != nil {
		rest := m[1]
		if strings.HasPrefix(rest, "./") || strings.HasPrefix(rest, "../") || strings.HasPrefix(rest, "/") {
			return Range{Kind: KindWorkspacePath, WorkspacePath: rest}, nil
		}
		if _, err := semver.NewConstraint(rest); err == nil {
			return Range{Kind: KindWorkspaceSemver, Constraint: rest}, nil
		}
		return Range{Kind: KindWorkspaceIdent, WorkspaceIdent: rest}, nil
	}

	if m := patRegistryAliased.FindStringSubmatch(raw); m != nil {
		ident, rangeStr := m[1], m[2]
		if _, err := semver.NewConstraint(rangeStr); err == nil {
			return Range{Kind: KindRegistrySemver, AliasIdent: ident, Constraint: rangeStr}, nil
		}
		return Range{Kind: KindRegistryTag, AliasIdent: ident, Tag: rangeStr}, nil
	}

	if m := patLink.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindLink, Path: m[1]}, nil
	}
	if m := patPortal.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindPortal, Path: m[1]}, nil
	}
	if m := patGitHubShort.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindGit, Repo: "github:" + m[1], TreeIsh: m[2]}, nil
	}
	if m := patGitExplicit.FindStringSubmatch(raw); m != nil {
		proto := m[1]
		if proto == "" {
			proto = "https"
		}
		return Range{Kind: KindGit, Repo: proto + "://" + m[2], TreeIsh: m[3]}, nil
	}
	if m := patGitDotGit.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindGit, Repo: m[1], TreeIsh: m[2]}, nil
	}

	if m := patFileProto.FindStringSubmatch(raw); m != nil {
		path := m[1]
		if isTarballPath(path) {
			return Range{Kind: KindTarball, Path: path}, nil
		}
		return Range{Kind: KindFolder, Path: path}, nil
	}
	if isTarballPath(raw) {
		return Range{Kind: KindTarball, Path: raw}, nil
	}
	if m := patFolderPath.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindFolder, Path: raw}, nil
	}
	if m := patURL.FindStringSubmatch(raw); m != nil {
		return Range{Kind: KindURL, Path: m[1]}, nil
	}

	if _, err := semver.NewConstraint(raw); err == nil {
		return Range{Kind: KindSemver, Constraint: raw}, nil
	}

	// Fallback: an opaque tag (e.g. "latest", "next", "canary").
	return Range{Kind: KindTag, Tag: raw}, nil
}

func isTarballPath(s string) bool {
	return patTarballPath.MatchString(s)
}

func urlDecode(s string) string {
	return strings.ReplaceAll(s, "%3A", ":")
}

// ToFileString renders the range back to its canonical persisted form.
// Printing is total: every constructible Range has a ToFileString.
func (r Range) ToFileString() string {
	switch r.Kind {
	case KindSemver:
		return r.Constraint
	case KindTag:
		return r.Tag
	case KindRegistrySemver:
		return fmt.Sprintf("npm:%s@%s", r.AliasIdent, r.Constraint)
	case KindRegistryTag:
		return fmt.Sprintf("npm:%s@%s", r.AliasIdent, r.Tag)
	case KindWorkspaceMagic:
		return "workspace:" + r.Magic
	case KindWorkspaceSemver:
		return "workspace:" + r.Constraint
	case KindWorkspaceIdent:
		return "workspace:" + r.WorkspaceIdent
	case KindWorkspacePath:
		return "workspace:" + r.WorkspacePath
	case KindURL:
		return r.Path
	case KindTarball, KindFolder:
		return r.Path
	case KindLink:
		return "link:" + r.Path
	case KindPortal:
		return "portal:" + r.Path
	case KindPatch:
		inner := ""
		if r.Inner != nil {
			inner = strings.ReplaceAll(r.Inner.ToFileString(), ":", "%3A")
		}
		out := fmt.Sprintf("patch:%s#%s", inner, r.PatchPath)
		if r.SemverExclusive != "" {
			out += "&" + r.SemverExclusive
		}
		return out
	case KindGit:
		if r.TreeIsh != "" {
			return r.Repo + "#" + r.TreeIsh
		}
		return r.Repo
	case KindVirtual:
		inner := ""
		if r.VirtualInner != nil {
			inner = r.VirtualInner.ToFileString()
		}
		return fmt.Sprintf("virtual:%s#%s", r.VirtualHash, inner)
	case KindMissingPeer:
		return ""
	default:
		return ""
	}
}

// ToHumanString renders the range the way a diagnostic message would show
// it, eliding the virtual-hash noise that ToFileString needs to round-trip.
func (r Range) ToHumanString() string {
	if r.Kind == KindVirtual && r.VirtualInner != nil {
		return r.VirtualInner.ToHumanString()
	}
	return r.ToFileString()
}
