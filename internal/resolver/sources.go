package resolver

import (
	"context"
	"time"

	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
)

// RegistryVersions is the decoded view of a registry's metadata for one
// ident: every published version, the dist-tags pointing at them, and (when
// the registry supplied it) each version's release time — the exact shape
// spec §4.D calls the manifest cache's "parsed-cache sibling".
type RegistryVersions struct {
	Versions     []string
	DistTags     map[string]string
	ReleaseTimes map[string]time.Time
}

// RegistrySource resolves registry-semver and registry-tag descriptors. The
// concrete implementation (internal/fetch) backs this with a manifest cache
// keyed by ident and a registry-specific JSON decoder.
type RegistrySource interface {
	Versions(ctx context.Context, id ident.Ident) (RegistryVersions, error)
	Manifest(ctx context.Context, l locator.Locator) (*manifest.Manifest, error)
}

// PackageSource resolves every non-registry range kind by delegating to the
// fetcher: url, tarball, folder, git, patch, link, portal. It returns both
// the resolved locator and the fetched manifest in one call since for these
// kinds there is no registry metadata step separate from the fetch itself.
type PackageSource interface {
	Resolve(ctx context.Context, d Unresolved) (locator.Locator, *manifest.Manifest, error)
}

// Unresolved carries everything a PackageSource needs to resolve a
// non-registry descriptor.
type Unresolved struct {
	Ident  ident.Ident
	Range  descriptor.Range
	Parent *locator.Locator
}

// WorkspaceTable resolves workspace-* ranges against the project's own
// workspace catalog (internal/project, built from internal/workspace).
type WorkspaceTable interface {
	// ByPath returns the workspace locator at a project-relative path.
	ByPath(path string) (locator.Locator, *manifest.Manifest, bool)
	// ByIdent returns the (assumed unique) workspace carrying this ident.
	ByIdent(id ident.Ident) (locator.Locator, *manifest.Manifest, bool)
	// Root is the top-level workspace, used for "workspace:*" run from the
	// project root and as the starting point of primary resolution.
	Root() (locator.Locator, *manifest.Manifest)
	// All enumerates every workspace locator, used to seed primary
	// resolution's root descriptor set.
	All() []locator.Locator
}
