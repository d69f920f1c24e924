// Package fetch implements spec §4.F: turning a locator into package bytes
// on disk, and turning an ident into registry version metadata. It backs
// the two collaborator interfaces internal/resolver declares
// (RegistrySource, PackageSource) so the resolver never imports this
// package directly — the dependency runs the other way, matching teacher
// internal/cache's own client-interface split (see internal/cache/cache_http.go's
// "client" interface consumed by the cache instead of importing
// internal/client directly).
//
// The spec's literal cache format is an in-archive zip; this module reuses
// internal/cache's tar+zstd ArchiveCache instead (see DESIGN.md) so there is
// exactly one archive codec in the module, shared with the hoisting linker.
package fetch

import (
	"context"
	"fmt"
	"regexp"

	"github.com/quillpm/quill/internal/cache"
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/quillpm/quill/internal/resolver"
	"github.com/quillpm/quill/internal/turbopath"
)

var scratchKeyUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// StorageKind tags which of PackageData's three modes (spec §4.F) a fetch
// result carries.
type StorageKind int

const (
	// StorageLocal is an on-disk path: workspaces, link:, portal:.
	StorageLocal StorageKind = iota
	// StorageZip is the common case: fetched bytes, now living in the
	// archive cache under the locator's slug.
	StorageZip
	// StorageMissingZip is a cache miss encountered in dry-run/mock mode,
	// where the fetcher is asked not to perform real network I/O.
	StorageMissingZip
)

// PackageData is what a fetch produces: the package's contents, addressed
// one of three ways depending on the locator's reference kind.
type PackageData struct {
	Kind StorageKind

	// StorageLocal
	Path turbopath.AbsoluteSystemPath

	// StorageZip
	Locator  locator.Locator
	Checksum string
}

// Fetcher implements resolver.RegistrySource and resolver.PackageSource. One
// Fetcher is shared across an entire install so its archive/manifest caches
// and dry-run flag apply uniformly.
type Fetcher struct {
	Archive  *cache.ArchiveCache
	Manifest *cache.ManifestCache
	Registry RegistryConfig

	Downloader *Downloader
	Git        *GitFetcher

	// Scratch is a working directory for staging extracted tarballs before
	// they're handed to ArchiveCache.Put. It must be writable and is safe to
	// share across concurrent fetches (each fetch gets its own subdirectory).
	Scratch turbopath.AbsoluteSystemPath

	// DryRun, when set, never performs network I/O: a cache miss for a
	// registry/url/git/patch locator yields StorageMissingZip instead of
	// fetching, per spec §4.F's "missing-zip (cache miss in mock/dry-run
	// mode)" storage mode.
	DryRun bool

	// ContextDir resolves the on-disk directory a relative folder/tarball/
	// patch-file path is relative to: the requesting workspace's directory
	// for a descriptor with a parent, or the project root for a top-level
	// one. internal/project wires this in once the workspace catalog
	// exists; it is a seam rather than a dependency on internal/project so
	// this package never has to import it back.
	ContextDir func(parent *locator.Locator) (turbopath.AbsoluteSystemPath, error)
}

// RegistryConfig names the npm-compatible registry a Fetcher talks to.
type RegistryConfig struct {
	Base string // e.g. "https://registry.npmjs.org"
}

// NewFetcher wires the caches, HTTP downloader and git client a Fetcher
// needs. scratch is created if it doesn't already exist.
func NewFetcher(archive *cache.ArchiveCache, manifestCache *cache.ManifestCache, registry RegistryConfig, scratch turbopath.AbsoluteSystemPath, dryRun bool) (*Fetcher, error) {
	if err := scratch.MkdirAll(0775); err != nil {
		return nil, err
	}
	return &Fetcher{
		Archive:    archive,
		Manifest:   manifestCache,
		Registry:   registry,
		Downloader: NewDownloader(),
		Git:        NewGitFetcher(),
		Scratch:    scratch,
		DryRun:     dryRun,
	}, nil
}

var _ resolver.RegistrySource = (*Fetcher)(nil)
var _ resolver.PackageSource = (*Fetcher)(nil)

// scratchDir returns a fresh, unique-enough staging directory for one fetch.
// Collisions are prevented by keying on the locator/ident being fetched,
// which is unique within one resolveOne call and never reused concurrently
// for the same key (the resolver's work queue dedupes by descriptor before
// a second fetch of the same locator would ever be started).
func (f *Fetcher) scratchDir(key string) turbopath.AbsoluteSystemPath {
	return f.Scratch.UntypedJoin(sanitizeScratchKey(key))
}

func sanitizeScratchKey(key string) string {
	return scratchKeyUnsafeChars.ReplaceAllString(key, "_")
}

// Resolve implements resolver.PackageSource for every non-registry range
// kind (spec §4.F): url, tarball, folder, git, patch, link, portal.
func (f *Fetcher) Resolve(ctx context.Context, u resolver.Unresolved) (locator.Locator, *manifest.Manifest, error) {
	switch u.Range.Kind {
	case descriptor.KindURL:
		return f.resolveURL(ctx, u)
	case descriptor.KindTarball:
		return f.resolveTarball(ctx, u)
	case descriptor.KindFolder:
		return f.resolveFolder(ctx, u)
	case descriptor.KindGit:
		return f.resolveGit(ctx, u)
	case descriptor.KindPatch:
		return f.resolvePatch(ctx, u)
	case descriptor.KindLink:
		return f.resolveLinkOrPortal(ctx, u, locator.KindLink)
	case descriptor.KindPortal:
		return f.resolveLinkOrPortal(ctx, u, locator.KindPortal)
	default:
		return locator.Locator{}, nil, fmt.Errorf("fetch: unsupported range kind %v", u.Range.Kind)
	}
}

// putArchive extracts a downloaded tarball at tgzPath into a scratch
// directory and archives it under l, returning the checksum the lockfile
// entry records.
func (f *Fetcher) putArchive(l locator.Locator, tgzPath turbopath.AbsoluteSystemPath) (string, error) {
	anchor := f.scratchDir(l.ToFileString() + ".extract")
	defer anchor.RemoveAll()

	files, err := extractTarGz(tgzPath, anchor, nodeModulesPrefix(l.Ident))
	if err != nil {
		return "", fmt.Errorf("fetch: extract %s: %w", l.ToHumanString(), err)
	}
	if err := f.Archive.Put(l, anchor, files); err != nil {
		return "", fmt.Errorf("fetch: archive %s: %w", l.ToHumanString(), err)
	}
	return f.Archive.Checksum(l)
}

// nodeModulesPrefix renders the archive-entry prefix spec §4.F requires:
// every fetched file lives under node_modules/<ident>/ inside the archive,
// so the hoisting linker can restore it straight into place without a
// separate relayout step.
func nodeModulesPrefix(id ident.Ident) turbopath.AnchoredSystemPath {
	return turbopath.AnchoredSystemPathFromUpstream("node_modules/" + id.String())
}

// readManifestFromArchive extracts just long enough to read
// node_modules/<ident>/package.json back out of an already-archived
// locator, used after putArchive to build the Manifest a caller needs.
func (f *Fetcher) readManifestFromArchive(l locator.Locator) (*manifest.Manifest, error) {
	anchor := f.scratchDir(l.ToFileString() + ".read")
	defer anchor.RemoveAll()

	ok, _, err := f.Archive.Fetch(l, anchor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fetch: archive for %s vanished after put", l.ToHumanString())
	}
	pkgJSON := anchor.UntypedJoin(nodeModulesPrefix(l.Ident).ToString(), "package.json")
	data, err := pkgJSON.ReadFile()
	if err != nil {
		return nil, fmt.Errorf("fetch: read package.json for %s: %w", l.ToHumanString(), err)
	}
	return manifest.Parse(data)
}
