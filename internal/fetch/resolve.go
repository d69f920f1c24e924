package fetch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/quillpm/quill/internal/patch"
	"github.com/quillpm/quill/internal/resolver"
	"github.com/quillpm/quill/internal/turbopath"
)

// resolveContextPath resolves rel (a folder:/tarball:/patch-file path taken
// verbatim from a descriptor) against the directory the descriptor was
// declared in, via the ContextDir seam.
func (f *Fetcher) resolveContextPath(parent *locator.Locator, rel string) (turbopath.AbsoluteSystemPath, error) {
	if filepath.IsAbs(rel) {
		return turbopath.AbsoluteSystemPathFromUpstream(rel), nil
	}
	if f.ContextDir == nil {
		return "", fmt.Errorf("fetch: no context directory resolver configured for relative path %q", rel)
	}
	dir, err := f.ContextDir(parent)
	if err != nil {
		return "", err
	}
	return dir.UntypedJoin(rel), nil
}

// resolveURL fetches an arbitrary tarball URL (spec §4.F's url: range).
func (f *Fetcher) resolveURL(ctx context.Context, u resolver.Unresolved) (locator.Locator, *manifest.Manifest, error) {
	l := locator.Locator{Ident: u.Ident, Reference: locator.Reference{Kind: locator.KindURL, URL: u.Range.Path}}

	if ok := f.Archive.Exists(l); ok.Local {
		m, err := f.readManifestFromArchive(l)
		return l, m, err
	}
	if f.DryRun {
		return locator.Locator{}, nil, &MissingZipError{Locator: l}
	}

	tgz := f.scratchDir(l.ToFileString() + ".download").UntypedJoin("package.tgz")
	if err := f.Downloader.DownloadToFile(ctx, u.Range.Path, tgz); err != nil {
		return locator.Locator{}, nil, err
	}
	defer tgz.Dir().RemoveAll()

	if _, err := f.putArchive(l, tgz); err != nil {
		return locator.Locator{}, nil, err
	}
	m, err := f.readManifestFromArchive(l)
	return l, m, err
}

// resolveTarball reads a local .tgz/.tar.gz file (spec §4.F's tarball:
// range) relative to the descriptor's declaring directory.
func (f *Fetcher) resolveTarball(ctx context.Context, u resolver.Unresolved) (locator.Locator, *manifest.Manifest, error) {
	l := locator.Locator{Ident: u.Ident, Reference: locator.Reference{Kind: locator.KindTarball, Path: u.Range.Path}}

	if ok := f.Archive.Exists(l); ok.Local {
		m, err := f.readManifestFromArchive(l)
		return l, m, err
	}

	tgz, err := f.resolveContextPath(u.Parent, u.Range.Path)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	if _, err := f.putArchive(l, tgz); err != nil {
		return locator.Locator{}, nil, err
	}
	m, err := f.readManifestFromArchive(l)
	return l, m, err
}

// resolveFolder reads a local directory in place (spec §4.F's folder:
// range): no archiving, no copy, just the package.json at that path.
func (f *Fetcher) resolveFolder(ctx context.Context, u resolver.Unresolved) (locator.Locator, *manifest.Manifest, error) {
	l := locator.Locator{Ident: u.Ident, Reference: locator.Reference{Kind: locator.KindFolder, Path: u.Range.Path}}

	dir, err := f.resolveContextPath(u.Parent, u.Range.Path)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	data, err := dir.UntypedJoin("package.json").ReadFile()
	if err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: read package.json for folder %s: %w", dir.ToString(), err)
	}
	m, err := manifest.Parse(data)
	return l, m, err
}

// resolveLinkOrPortal handles link:/portal: ranges (spec §4.F): the target
// directory is recorded but never fetched into the archive cache. The only
// difference between the two kinds is how the linker later treats the
// target's own dependencies, which this package has no opinion on.
func (f *Fetcher) resolveLinkOrPortal(ctx context.Context, u resolver.Unresolved, kind locator.Kind) (locator.Locator, *manifest.Manifest, error) {
	l := locator.Locator{Ident: u.Ident, Reference: locator.Reference{Kind: kind, Path: u.Range.Path}}

	dir, err := f.resolveContextPath(u.Parent, u.Range.Path)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	pkgJSON := dir.UntypedJoin("package.json")
	if !pkgJSON.FileExists() {
		// link:/portal: targets aren't required to carry a manifest; an
		// empty one lets resolution continue with no further dependencies.
		return l, &manifest.Manifest{Name: u.Ident.String()}, nil
	}
	data, err := pkgJSON.ReadFile()
	if err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: read package.json for %v %s: %w", kind, dir.ToString(), err)
	}
	m, err := manifest.Parse(data)
	return l, m, err
}

// resolveGit clones repo at treeish into scratch, then archives the working
// tree exactly like a registry tarball (spec §4.F: "clone shallow at the
// pinned commit, then treat the checkout like a fetched package").
func (f *Fetcher) resolveGit(ctx context.Context, u resolver.Unresolved) (locator.Locator, *manifest.Manifest, error) {
	// A treeish that is already a commit SHA names a stable locator the
	// archive cache might already have; a branch/tag name doesn't resolve
	// to a commit until after the clone, so there's nothing to probe yet.
	probe := locator.Locator{Ident: u.Ident, Reference: locator.Reference{Kind: locator.KindGit, Repo: u.Range.Repo, Commit: u.Range.TreeIsh}}
	if !looksLikeRef(u.Range.TreeIsh) {
		if ok := f.Archive.Exists(probe); ok.Local {
			m, err := f.readManifestFromArchive(probe)
			return probe, m, err
		}
	}
	if f.DryRun {
		return locator.Locator{}, nil, &MissingZipError{Locator: probe}
	}

	checkout := f.scratchDir(sanitizeScratchKey(u.Range.Repo+"#"+u.Range.TreeIsh) + ".checkout")
	defer checkout.RemoveAll()

	commit, err := f.Git.Clone(ctx, u.Range.Repo, u.Range.TreeIsh, checkout)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	l := locator.Locator{Ident: u.Ident, Reference: locator.Reference{Kind: locator.KindGit, Repo: u.Range.Repo, Commit: commit}}

	if ok := f.Archive.Exists(l); ok.Local {
		m, err := f.readManifestFromArchive(l)
		return l, m, err
	}

	gitDir := checkout.UntypedJoin(".git")
	_ = gitDir.RemoveAll()

	if _, err := f.archiveLocalDir(l, checkout); err != nil {
		return locator.Locator{}, nil, err
	}
	m, err := f.readManifestFromArchive(l)
	return l, m, err
}

// resolvePatch applies a patch: range's patch file to its already-resolved
// inner locator, then re-archives the patched result under its own locator
// (spec §4.F: "fetch the inner locator, parse the patch file, apply it to
// the in-memory entry list, re-zip").
//
// The inner range is expected to already be a single pinned target (an
// exact registry version, or a url/tarball/folder/git/link/portal range) by
// the time it reaches the fetcher: picking a version out of a semver
// constraint is internal/resolver's job, and a patch: descriptor that wraps
// an unpinned range has no single package.json for the patch to apply
// against. See DESIGN.md.
func (f *Fetcher) resolvePatch(ctx context.Context, u resolver.Unresolved) (locator.Locator, *manifest.Manifest, error) {
	inner := u.Range.Inner
	if inner == nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: patch range for %s has no inner range", u.Ident.String())
	}

	innerLocator, _, version, err := f.resolvePatchInner(ctx, u.Ident, *inner, u.Parent)
	if err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: resolve patch target for %s: %w", u.Ident.String(), err)
	}

	l := locator.Locator{Ident: u.Ident, Reference: locator.Reference{
		Kind:       locator.KindPatch,
		Inner:      &innerLocator,
		PatchPaths: []string{u.Range.PatchPath},
	}}
	if ok := f.Archive.Exists(l); ok.Local {
		m, err := f.readManifestFromArchive(l)
		return l, m, err
	}

	patchFile, err := f.resolveContextPath(u.Parent, u.Range.PatchPath)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	patchData, err := patchFile.ReadFile()
	if err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: read patch file %s: %w", patchFile.ToString(), err)
	}
	parts, err := patch.Parse(patchData, u.Range.SemverExclusive)
	if err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: parse patch %s: %w", patchFile.ToString(), err)
	}

	anchor := f.scratchDir(l.ToFileString() + ".source")
	defer anchor.RemoveAll()
	ok, _, err := f.Archive.Fetch(innerLocator, anchor)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	if !ok {
		return locator.Locator{}, nil, fmt.Errorf("fetch: archive for patch target %s vanished", innerLocator.ToHumanString())
	}
	prefix := nodeModulesPrefix(u.Ident)
	root := anchor.UntypedJoin(prefix.ToString())

	entries, err := loadEntries(root)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	if err := patch.Apply(entries, parts, version); err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: apply patch %s: %w", patchFile.ToString(), err)
	}

	patched := f.scratchDir(l.ToFileString() + ".patched")
	defer patched.RemoveAll()
	files, err := writeEntries(patched, prefix, entries)
	if err != nil {
		return locator.Locator{}, nil, err
	}
	if err := f.Archive.Put(l, patched, files); err != nil {
		return locator.Locator{}, nil, fmt.Errorf("fetch: archive patched %s: %w", l.ToHumanString(), err)
	}

	m, err := f.readManifestFromArchive(l)
	return l, m, err
}

// resolvePatchInner resolves a patch's inner range to a concrete locator,
// its manifest and (for registry targets) its exact version string, used to
// evaluate SemverExclusive.
func (f *Fetcher) resolvePatchInner(ctx context.Context, id ident.Ident, inner descriptor.Range, parent *locator.Locator) (locator.Locator, *manifest.Manifest, string, error) {
	switch inner.Kind {
	case descriptor.KindSemver, descriptor.KindTag:
		version := inner.Constraint
		if version == "" {
			version = inner.Tag
		}
		if _, err := semver.NewVersion(version); err != nil {
			return locator.Locator{}, nil, "", fmt.Errorf("patch inner range must pin an exact version, got %q", version)
		}
		l := locator.Locator{Ident: id, Reference: locator.Reference{Kind: locator.KindRegistry, Version: version}}
		m, err := f.Manifest(ctx, l)
		return l, m, version, err
	case descriptor.KindURL, descriptor.KindTarball, descriptor.KindFolder, descriptor.KindGit, descriptor.KindLink, descriptor.KindPortal:
		l, m, err := f.Resolve(ctx, resolver.Unresolved{Ident: id, Range: inner, Parent: parent})
		return l, m, "", err
	default:
		return locator.Locator{}, nil, "", fmt.Errorf("unsupported patch inner range kind %v", inner.Kind)
	}
}
