// Package project discovers a project's workspaces (the root manifest plus
// every sub-workspace its "workspaces" globs match) and exposes the
// resulting catalog as a resolver.WorkspaceTable, the collaborator
// internal/resolver needs to resolve "workspace:" ranges without importing
// this package back.
//
// Grounded on teacher internal/workspace.Catalog (generalized from "package
// json + turbo.json per workspace" to "locator + manifest per workspace")
// and internal/packagemanager.GetWorkspaces's glob-then-ignore shape,
// reimplemented against github.com/bmatcuk/doublestar/v4 directly (see
// DESIGN.md) instead of the teacher's pre-v4 vendored internal/doublestar.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/quillpm/quill/internal/turbopath"
)

// Workspace is one manifest-bearing directory in the project: the root
// itself, or one matched by its "workspaces" globs.
type Workspace struct {
	Locator  locator.Locator
	Dir      turbopath.AbsoluteSystemPath
	Path     string // project-root-relative, posix-separated
	Manifest *manifest.Manifest
}

// Catalog is every workspace in a project, keyed for the lookups
// resolver.WorkspaceTable needs.
type Catalog struct {
	RootDir    turbopath.AbsoluteSystemPath
	root       Workspace
	byPath     map[string]Workspace
	byIdent    map[string]Workspace
	all        []Workspace
	PackageManager PackageManagerInfo
}

// PackageManagerInfo is the detected package manager, read from the root
// manifest's "packageManager" field per spec §6's corepack-style pin.
type PackageManagerInfo struct {
	Name    string // "npm", "yarn", "pnpm", "" if undetected
	Version string
}

var packageManagerFieldPattern = regexp.MustCompile(`^(npm|pnpm|yarn)@(\d+\.\d+\.\d+(?:-.+)?)$`)

// ParsePackageManagerField parses package.json's "packageManager" field,
// e.g. "yarn@3.4.1".
func ParsePackageManagerField(raw string) (PackageManagerInfo, error) {
	m := packageManagerFieldPattern.FindStringSubmatch(raw)
	if m == nil {
		return PackageManagerInfo{}, fmt.Errorf("project: invalid packageManager field %q", raw)
	}
	return PackageManagerInfo{Name: m[1], Version: m[2]}, nil
}

// Load reads the root manifest at rootDir and every sub-workspace its
// "workspaces" globs match, building the in-memory catalog an install run
// operates against.
func Load(rootDir turbopath.AbsoluteSystemPath) (*Catalog, error) {
	rootManifest, err := readManifest(rootDir.UntypedJoin("package.json"))
	if err != nil {
		return nil, fmt.Errorf("project: read root package.json: %w", err)
	}

	rootIdent := ident.New("", rootManifest.Name)
	if rootManifest.Name == "" {
		rootIdent = ident.New("", filepath.Base(rootDir.ToString()))
	}
	root := Workspace{
		Locator:  locator.New(rootIdent, locator.Reference{Kind: locator.KindWorkspaceIdent, WorkspacePath: "."}),
		Dir:      rootDir,
		Path:     ".",
		Manifest: rootManifest,
	}

	c := &Catalog{
		RootDir: rootDir,
		root:    root,
		byPath:  map[string]Workspace{".": root},
		byIdent: map[string]Workspace{},
		all:     []Workspace{root},
	}
	if rootManifest.Name != "" {
		c.byIdent[rootIdent.String()] = root
	}

	if rootManifest.PackageManager != "" {
		if pm, err := ParsePackageManagerField(rootManifest.PackageManager); err == nil {
			c.PackageManager = pm
		}
	}

	dirs, err := expandWorkspaceGlobs(rootDir, rootManifest.Workspaces)
	if err != nil {
		return nil, err
	}

	for _, relDir := range dirs {
		wsDir := rootDir.UntypedJoin(relDir)
		m, err := readManifest(wsDir.UntypedJoin("package.json"))
		if err != nil {
			return nil, fmt.Errorf("project: read %s/package.json: %w", relDir, err)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("project: workspace %s has no \"name\"", relDir)
		}
		id := ident.New("", m.Name)
		ws := Workspace{
			Locator:  locator.New(id, locator.Reference{Kind: locator.KindWorkspaceIdent, WorkspacePath: relDir}),
			Dir:      wsDir,
			Path:     relDir,
			Manifest: m,
		}
		c.byPath[relDir] = ws
		c.byIdent[id.String()] = ws
		c.all = append(c.all, ws)
	}

	sort.Slice(c.all, func(i, j int) bool { return c.all[i].Path < c.all[j].Path })
	return c, nil
}

func readManifest(p turbopath.AbsoluteSystemPath) (*manifest.Manifest, error) {
	data, err := p.ReadFile()
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

// expandWorkspaceGlobs resolves package.json's "workspaces" field into a
// sorted list of root-relative directories, skipping node_modules the same
// way every npm-family workspaces implementation does.
func expandWorkspaceGlobs(root turbopath.AbsoluteSystemPath, globs []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, g := range globs {
		g = strings.TrimSuffix(g, "/")
		matches, err := doublestar.Glob(os.DirFS(root.ToString()), g+"/package.json")
		if err != nil {
			return nil, fmt.Errorf("project: invalid workspaces glob %q: %w", g, err)
		}
		for _, m := range matches {
			dir := filepath.ToSlash(filepath.Dir(m))
			if dir == "." || strings.Contains(dir, "node_modules") {
				continue
			}
			if !seen[dir] {
				seen[dir] = true
				out = append(out, dir)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- resolver.WorkspaceTable ---

// ByPath implements resolver.WorkspaceTable.
func (c *Catalog) ByPath(path string) (locator.Locator, *manifest.Manifest, bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "."
	}
	ws, ok := c.byPath[path]
	if !ok {
		return locator.Locator{}, nil, false
	}
	return ws.Locator, ws.Manifest, true
}

// ByIdent implements resolver.WorkspaceTable.
func (c *Catalog) ByIdent(id ident.Ident) (locator.Locator, *manifest.Manifest, bool) {
	ws, ok := c.byIdent[id.String()]
	if !ok {
		return locator.Locator{}, nil, false
	}
	return ws.Locator, ws.Manifest, true
}

// Root implements resolver.WorkspaceTable.
func (c *Catalog) Root() (locator.Locator, *manifest.Manifest) {
	return c.root.Locator, c.root.Manifest
}

// All implements resolver.WorkspaceTable.
func (c *Catalog) All() []locator.Locator {
	out := make([]locator.Locator, len(c.all))
	for i, ws := range c.all {
		out[i] = ws.Locator
	}
	return out
}

// Workspaces returns every workspace in path order, root first.
func (c *Catalog) Workspaces() []Workspace { return append([]Workspace(nil), c.all...) }

// WorkspaceAt returns the workspace at a project-relative path.
func (c *Catalog) WorkspaceAt(path string) (Workspace, bool) {
	ws, ok := c.byPath[path]
	return ws, ok
}

// Dir returns the on-disk directory a locator's workspace lives in, used
// as the fetch.Fetcher ContextDir seam and by the build executor to set
// each job's cwd.
func (c *Catalog) Dir(l locator.Locator) (turbopath.AbsoluteSystemPath, bool) {
	if l.Reference.Kind != locator.KindWorkspaceIdent {
		return "", false
	}
	ws, ok := c.byPath[l.Reference.WorkspacePath]
	return ws.Dir, ok
}

// ContextDir implements the fetch.Fetcher.ContextDir seam: a descriptor's
// relative folder/tarball/patch-file path resolves against its declaring
// workspace's directory, or the project root for a top-level one.
func (c *Catalog) ContextDir(parent *locator.Locator) (turbopath.AbsoluteSystemPath, error) {
	if parent == nil {
		return c.RootDir, nil
	}
	if dir, ok := c.Dir(*parent); ok {
		return dir, nil
	}
	// A non-workspace parent (a transitive dependency declaring its own
	// relative dependency) has no on-disk directory of its own to resolve
	// against; spec §4.F scopes this to descriptors declared by a
	// workspace, so this is a configuration error rather than a fetch one.
	return "", fmt.Errorf("project: %s is not a workspace, cannot resolve a relative path against it", parent.ToHumanString())
}

