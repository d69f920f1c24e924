// Package pnp implements the Plug'n'Play linker (spec §4.H): instead of a
// physical node_modules tree, it emits a runtime resolution table mapping
// every (ident, reference) pair this install touched to where its contents
// live on disk, what it depends on, and whether the runtime's lookup
// should see it at all. Executing that table is out of scope (spec §1's
// Non-goals) — this package only builds and serializes it.
//
// Grounded on original_source/packages/zpm/src/linker/pnp.rs:
// link_project_pnp's registry-building loop, make_virtual_path's depth
// computation, and yarn_berry_hash all carry over almost unchanged; only
// the build-request wiring (handed off to internal/build here instead of
// inlined) and the unplugged-package rpath-symlink step are not carried
// over: this package computes unplugged locations but does not copy
// packages into them or create symlinks.
package pnp

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/resolver"
	"github.com/quillpm/quill/internal/turbopath"
)

// FallbackMode is spec §4.H's top-level fallback-pool policy.
type FallbackMode int

const (
	// FallbackNone disables the top-level fallback pool: an undeclared
	// import is a hard resolution error.
	FallbackNone FallbackMode = iota
	// FallbackDependenciesOnly enables the pool but excludes every
	// workspace from it, so only external dependencies spill over.
	FallbackDependenciesOnly
)

// Options configures one PnP link pass.
type Options struct {
	Fallback         FallbackMode
	VirtualFolder    string   // default "__virtual__"
	IgnorePatterns   []string // regex strings excluded from PnP's own resolution hook
	MustExtract      func(l locator.Locator) bool
	UnpluggedDirName string // default "unplugged"
}

// PackageInfo is one entry of package_registry_data: everything the
// runtime needs to resolve imports made from inside this package.
type PackageInfo struct {
	Location           string
	Dependencies       []DependencyEntry
	Peers              []string
	LinkType           string // "HARD" or "SOFT"
	DiscardFromLookup  bool
}

// DependencyEntry is one resolved import an entry's dependencies array
// carries: Target is nil for a declared-but-unresolved peer (encodes to
// JSON null), a bare reference string for a same-ident dependency, or
// [alias ident, reference] when the dependency was imported under an
// aliased name.
type DependencyEntry struct {
	Ident  string
	Target *DependencyTarget
}

// DependencyTarget is what a dependency resolves to.
type DependencyTarget struct {
	AliasIdent string // empty unless this is an npm: alias
	Reference  string
}

// registryReference is the reference half of a package_registry_data key:
// the locator's Reference.ToFileString(), with no parent locator appended.
// Two virtual instances of one package stay distinct only through the
// virtual hash their references carry.
func registryReference(l locator.Locator) string {
	return l.Reference.ToFileString()
}

// RegistryEntry is one (ident, reference) → PackageInfo row, kept as a
// slice (not a map) so Payload serializes in the array-of-pairs shape the
// PnP runtime format requires even when the key itself is absent (the
// top-level "None" ident/reference row addressing the project root).
type RegistryEntry struct {
	Ident     string // empty for the top-level null-keyed row
	Reference string // empty for the top-level null-keyed row
	Info      PackageInfo
}

// DependencyTreeRoot names one workspace the install started resolving
// from, in spec terms: a root descriptor's own locator.
type DependencyTreeRoot struct {
	Name      string
	Reference string
}

// Payload is the full runtime-resolution table.
type Payload struct {
	EnableTopLevelFallback bool
	FallbackExclusionList  []FallbackExclusion
	IgnorePatterns         []string
	PackageRegistryData    []RegistryEntry
	DependencyTreeRoots    []DependencyTreeRoot
}

// FallbackExclusion is one ident kept out of the top-level fallback pool
// (spec §4.H: "exclude workspaces from the fallback pool per the exclusion
// list").
type FallbackExclusion struct {
	Ident      string
	References []string
}

// Build walks a finished resolver graph and produces the PnP payload.
// rootDir anchors every package_location as a posix-relative path, and
// workspaceRoots seeds dependencyTreeRoots the same way a hoisting
// install's top-level node_modules does.
func Build(g *resolver.Graph, rootDir turbopath.AbsoluteSystemPath, workspaceRoots []locator.Locator, opts Options) (*Payload, error) {
	if opts.VirtualFolder == "" {
		opts.VirtualFolder = "__virtual__"
	}
	if opts.UnpluggedDirName == "" {
		opts.UnpluggedDirName = "unplugged"
	}
	virtualFolder := rootDir.UntypedJoin(opts.VirtualFolder)
	unpluggedDir := rootDir.UntypedJoin(".quill", opts.UnpluggedDirName)

	keys := make([]string, 0, len(g.Resolutions))
	for key := range g.Resolutions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	byIdentThenRef := map[string]map[string]PackageInfo{}
	var roots []locator.Locator

	for _, key := range keys {
		res := g.Resolutions[key]
		l := res.Locator

		deps := make([]DependencyEntry, 0, len(res.Dependencies)+len(res.MissingPeerDependencies)+1)
		depNames := make([]string, 0, len(res.Dependencies))
		for name := range res.Dependencies {
			depNames = append(depNames, name)
		}
		sort.Strings(depNames)
		for _, name := range depNames {
			d := res.Dependencies[name]
			target, ok := g.Locate(d)
			if !ok {
				continue
			}
			entry := DependencyEntry{Ident: name}
			if target.Ident.String() == name {
				entry.Target = &DependencyTarget{Reference: registryReference(target)}
			} else {
				entry.Target = &DependencyTarget{AliasIdent: target.Ident.String(), Reference: registryReference(target)}
			}
			deps = append(deps, entry)
		}

		missing := make([]string, 0, len(res.MissingPeerDependencies))
		for name := range res.MissingPeerDependencies {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		for _, name := range missing {
			if !hasDep(deps, name) {
				deps = append(deps, DependencyEntry{Ident: name, Target: nil})
			}
		}
		if !hasDep(deps, l.Ident.String()) {
			deps = append(deps, DependencyEntry{Ident: l.Ident.String(), Target: &DependencyTarget{Reference: registryReference(l)}})
		}
		sort.Slice(deps, func(i, j int) bool { return deps[i].Ident < deps[j].Ident })

		peers := make([]string, 0, len(res.PeerDependencies))
		for name := range res.PeerDependencies {
			peers = append(peers, name)
		}
		sort.Strings(peers)

		loc, linkType, discard, mustExtract := packageLocation(l, rootDir, virtualFolder, opts)
		if mustExtract {
			hash, err := yarnBerryHash(l)
			if err != nil {
				return nil, err
			}
			loc = unpluggedDir.UntypedJoin(fmt.Sprintf("%s-%s-%s", slug(l.Ident.String()), slug(l.Reference.ToFileString()), hash))
			linkType = "HARD"
		}

		relLoc, err := relativeLocation(rootDir, loc)
		if err != nil {
			return nil, err
		}

		info := PackageInfo{
			Location:          relLoc,
			Dependencies:      deps,
			Peers:             peers,
			LinkType:          linkType,
			DiscardFromLookup: discard,
		}

		idKey := l.Ident.String()
		if byIdentThenRef[idKey] == nil {
			byIdentThenRef[idKey] = map[string]PackageInfo{}
		}
		byIdentThenRef[idKey][registryReference(l)] = info
	}

	var entries []RegistryEntry
	identKeys := make([]string, 0, len(byIdentThenRef))
	for id := range byIdentThenRef {
		identKeys = append(identKeys, id)
	}
	sort.Strings(identKeys)
	for _, id := range identKeys {
		refs := byIdentThenRef[id]
		refKeys := make([]string, 0, len(refs))
		for r := range refs {
			refKeys = append(refKeys, r)
		}
		sort.Strings(refKeys)
		for _, r := range refKeys {
			entries = append(entries, RegistryEntry{Ident: id, Reference: r, Info: refs[r]})
		}
	}

	var treeRoots []DependencyTreeRoot
	fallbackExclusions := map[string]map[string]bool{}

	for _, root := range workspaceRoots {
		roots = append(roots, root)
		treeRoots = append(treeRoots, DependencyTreeRoot{Name: root.Ident.String(), Reference: registryReference(root)})

		if root.Reference.WorkspacePath == "." {
			if refs, ok := byIdentThenRef[root.Ident.String()]; ok {
				if info, ok := refs[registryReference(root)]; ok {
					byIdentThenRef[""] = map[string]PackageInfo{"": info}
				}
			}
		}

		if opts.Fallback == FallbackDependenciesOnly {
			idKey := root.Ident.String()
			if fallbackExclusions[idKey] == nil {
				fallbackExclusions[idKey] = map[string]bool{}
			}
			fallbackExclusions[idKey][registryReference(root)] = true
		}
	}
	if top, ok := byIdentThenRef[""]; ok {
		for r, info := range top {
			entries = append([]RegistryEntry{{Ident: "", Reference: r, Info: info}}, entries...)
		}
	}

	var exclusionList []FallbackExclusion
	exclusionIdents := make([]string, 0, len(fallbackExclusions))
	for id := range fallbackExclusions {
		exclusionIdents = append(exclusionIdents, id)
	}
	sort.Strings(exclusionIdents)
	for _, id := range exclusionIdents {
		refSet := fallbackExclusions[id]
		refs := make([]string, 0, len(refSet))
		for r := range refSet {
			refs = append(refs, r)
		}
		sort.Strings(refs)
		exclusionList = append(exclusionList, FallbackExclusion{Ident: id, References: refs})
	}

	return &Payload{
		EnableTopLevelFallback: opts.Fallback != FallbackNone,
		FallbackExclusionList:  exclusionList,
		IgnorePatterns:         opts.IgnorePatterns,
		PackageRegistryData:    entries,
		DependencyTreeRoots:    treeRoots,
	}, nil
}

func hasDep(deps []DependencyEntry, ident string) bool {
	for _, d := range deps {
		if d.Ident == ident {
			return true
		}
	}
	return false
}

// packageLocation resolves where a locator's contents physically sit,
// before any unplug decision: the workspace/folder/link/portal directory
// in place, or the virtual path synthesized for a virtual locator wrapping
// one of those.
func packageLocation(l locator.Locator, rootDir, virtualFolder turbopath.AbsoluteSystemPath, opts Options) (loc turbopath.AbsoluteSystemPath, linkType string, discard bool, mustExtract bool) {
	phys := l.Physical()
	switch phys.Reference.Kind {
	case locator.KindWorkspaceIdent:
		loc = rootDir.UntypedJoin(phys.Reference.WorkspacePath)
		linkType = "SOFT"
	case locator.KindFolder, locator.KindLink, locator.KindPortal:
		loc = turbopath.AbsoluteSystemPathFromUpstream(phys.Reference.Path)
		linkType = "SOFT"
	default:
		linkType = "HARD"
		if opts.MustExtract != nil && opts.MustExtract(phys) {
			mustExtract = true
		}
	}
	if l.IsVirtual() && !mustExtract {
		hash := l.Reference.VirtualHash
		if len(hash) > 16 {
			hash = hash[:16]
		}
		loc = makeVirtualPath(virtualFolder, hash, loc)
	}
	return loc, linkType, discard, mustExtract
}

func relativeLocation(rootDir, loc turbopath.AbsoluteSystemPath) (string, error) {
	rel, err := loc.RelativeTo(rootDir)
	if err != nil {
		return "", fmt.Errorf("pnp: %s is not relative to the project root: %w", loc.ToString(), err)
	}
	s := rel.ToString()
	if s == "." || s == "" {
		s = "./"
	}
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	if !strings.HasPrefix(s, "./") && !strings.HasPrefix(s, "../") {
		s = "./" + s
	}
	return s, nil
}

// makeVirtualPath synthesizes the on-disk path a virtual package is
// reported at, without ever creating anything there: base/__virtual__
// plus a hash bucket plus enough "depth" placeholders to make the path's
// eventual ../ walk back up to base land on the real target. Grounded on
// original_source/packages/zpm/src/linker/pnp.rs's make_virtual_path,
// confirmed byte-for-byte against its depth/"final components" split.
func makeVirtualPath(base turbopath.AbsoluteSystemPath, hash string, target turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	rel, err := target.RelativeTo(base)
	if err != nil {
		return target
	}
	components := strings.Split(filepath.ToSlash(rel.ToString()), "/")
	if len(components) == 1 && (components[0] == "." || components[0] == "") {
		components = nil
	}

	depth := 0
	for depth < len(components) && components[depth] == ".." {
		depth++
	}
	final := components[depth:]

	path := base.UntypedJoin("hash-" + hash)
	if depth > 0 {
		path = path.UntypedJoin(fmt.Sprintf("%d", depth-1))
	} else {
		path = path.UntypedJoin("0")
	}
	if len(final) > 0 {
		path = path.UntypedJoin(final...)
	}
	return path
}

func slug(s string) string {
	return unsafeSlugChars.Replace(s)
}

var unsafeSlugChars = strings.NewReplacer("/", "_", ":", "_", "@", "")

// yarnBerryHash computes the 10-character hash Yarn Berry's own PnP
// installer uses to name unplugged-package directories, so an unplugged
// quill install lays out byte-compatibly with one Yarn produced for the
// same lockfile. Grounded on original_source's yarn_berry_hash.
func yarnBerryHash(l locator.Locator) (string, error) {
	scope := strings.TrimPrefix(l.Ident.Scope, "@")
	identifierHash := sha512Hex(scope + l.Ident.Name)
	final := sha512Hex(identifierHash + l.Reference.ToFileString())
	return final[:10], nil
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
