package project

import (
	"context"
	"fmt"

	"github.com/quillpm/quill/internal/cache"
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/fetch"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/linker/hoist"
	"github.com/quillpm/quill/internal/linker/pnp"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/lockfile"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/quillpm/quill/internal/resolver"
	"github.com/quillpm/quill/internal/turbopath"
)

// LinkerKind selects which of spec §4.G/§4.H's two linker backends an
// install materializes.
type LinkerKind int

const (
	LinkerHoist LinkerKind = iota
	LinkerPnP
)

// Options configures one Install run. Everything here is a value, no
// package-level globals, so a CLI process can run more than one install
// concurrently (e.g. a `--filter` foreach across independent projects).
type Options struct {
	Linker      LinkerKind
	Immutable   bool
	DryRun      bool
	Concurrency int
	AgeGate     resolver.AgeGate
	Registry    fetch.RegistryConfig
	CacheDir    turbopath.AbsoluteSystemPath
	ScratchDir  turbopath.AbsoluteSystemPath
	PnP         pnp.Options
}

// Result is what one Install run produces, returned for the CLI to report.
type Result struct {
	Graph      *resolver.Graph
	Lockfile   *lockfile.InstallLockfile
	PnPPayload *pnp.Payload // nil for a hoisting install
}

// Install runs the whole pipeline spec §2's data-flow diagram describes:
// read manifests (already done by Load) → resolve → virtualize → persist
// the lockfile → link → (caller runs the build executor over the result).
func Install(ctx context.Context, catalog *Catalog, opts Options) (*Result, error) {
	archive, err := cache.NewArchiveCache(opts.CacheDir, opts.Immutable)
	if err != nil {
		return nil, fmt.Errorf("project: open archive cache: %w", err)
	}
	manifestCache, err := cache.NewManifestCache(opts.CacheDir.UntypedJoin("registry").ToString(), opts.Immutable)
	if err != nil {
		return nil, fmt.Errorf("project: open manifest cache: %w", err)
	}
	fetcher, err := fetch.NewFetcher(archive, manifestCache, opts.Registry, opts.ScratchDir, opts.DryRun)
	if err != nil {
		return nil, fmt.Errorf("project: init fetcher: %w", err)
	}
	fetcher.ContextDir = catalog.ContextDir

	g := resolver.NewGraph()
	roots, err := rootDescriptors(catalog)
	if err != nil {
		return nil, err
	}

	primary := resolver.NewPrimary(fetcher, fetcher, catalog, opts.AgeGate, opts.Concurrency)
	if err := primary.Run(ctx, g, roots); err != nil {
		return nil, fmt.Errorf("project: resolve: %w", err)
	}

	workspaceLocators := catalog.All()
	v := resolver.NewVirtualizer(g)
	if err := v.Run(workspaceLocators); err != nil {
		return nil, fmt.Errorf("project: virtualize: %w", err)
	}
	v.PropagateOptional(workspaceLocators)

	lf, err := buildLockfile(g, archive)
	if err != nil {
		return nil, err
	}

	res := &Result{Graph: g, Lockfile: lf}
	switch opts.Linker {
	case LinkerPnP:
		payload, err := pnp.Build(g, catalog.RootDir, workspaceLocators, opts.PnP)
		if err != nil {
			return nil, fmt.Errorf("project: link (pnp): %w", err)
		}
		if err := payload.WriteSplit(catalog.RootDir); err != nil {
			return nil, fmt.Errorf("project: link (pnp): %w", err)
		}
		res.PnPPayload = payload
	default:
		root, _ := catalog.Root()
		tree := hoist.FromGraph(g, root)
		wt := hoist.Unfold(tree)
		hoist.Hoist(&wt)
		if err := hoist.Materialize(archive, catalog.localDirForHoist, catalog.RootDir, &wt); err != nil {
			return nil, fmt.Errorf("project: link (hoist): %w", err)
		}
	}

	return res, nil
}

// rootDescriptors seeds primary resolution: every workspace resolves as a
// self-root (so "workspace:*" self-references work) and contributes its
// declared dependencies, optionalDependencies and devDependencies, each
// bound to the declaring workspace's locator as parent.
func rootDescriptors(catalog *Catalog) ([]descriptor.Descriptor, error) {
	var roots []descriptor.Descriptor
	for _, ws := range catalog.Workspaces() {
		selfRange := descriptor.Range{Kind: descriptor.KindWorkspacePath, WorkspacePath: ws.Path}
		roots = append(roots, descriptor.New(ws.Locator.Ident, selfRange, nil))

		all := map[string]string{}
		for k, v := range ws.Manifest.Dependencies {
			all[k] = v
		}
		for k, v := range ws.Manifest.OptionalDependencies {
			all[k] = v
		}
		for k, v := range ws.Manifest.DevDependencies {
			if _, ok := all[k]; !ok {
				all[k] = v
			}
		}
		for name, rangeStr := range all {
			d, err := toDescriptor(name, rangeStr, ws.Locator)
			if err != nil {
				return nil, fmt.Errorf("project: workspace %s: %w", ws.Path, err)
			}
			roots = append(roots, d)
		}
	}
	return roots, nil
}

func toDescriptor(name, rangeStr string, parent locator.Locator) (descriptor.Descriptor, error) {
	id, err := ident.Parse(name)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	rng, err := descriptor.Parse(rangeStr)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	p := parent
	return descriptor.New(id, rng, &p), nil
}

// localDirForHoist implements hoist.LocalDir: a workspace or a folder:/
// link:/portal: override resolves to an on-disk directory the hoisting
// linker should symlink to rather than extract from the archive cache. A
// relative folder/link/portal path is resolved against the project root;
// descriptors declared deep inside a workspace with a path relative to
// that workspace instead of the root are a known simplification (see
// DESIGN.md) rather than a general ContextDir re-derivation, since the
// resolved tree no longer retains which workspace originally declared it.
func (c *Catalog) localDirForHoist(l locator.Locator) (turbopath.AbsoluteSystemPath, bool) {
	switch l.Reference.Kind {
	case locator.KindWorkspaceIdent:
		dir, ok := c.Dir(l)
		return dir, ok
	case locator.KindFolder, locator.KindLink, locator.KindPortal:
		return c.RootDir.UntypedJoin(l.Reference.Path), true
	default:
		return "", false
	}
}

// buildLockfile converts the finished graph into the persisted multi-key
// format (spec §4.C), skipping virtual/missing-peer descriptors, which are
// transient by construction and never survive to disk — the lockfile only
// ever records the physical shape the next install should reuse.
func buildLockfile(g *resolver.Graph, archive *cache.ArchiveCache) (*lockfile.InstallLockfile, error) {
	var targets []lockfile.DescriptorTarget
	sources := map[string]lockfile.ResolutionSource{}

	for _, entry := range g.DescriptorEntries() {
		if entry.Descriptor.Range.Kind == descriptor.KindVirtual || entry.Descriptor.Range.Kind == descriptor.KindMissingPeer {
			continue
		}
		targets = append(targets, lockfile.DescriptorTarget{Descriptor: entry.Descriptor, Locator: entry.Locator})

		key := entry.Locator.ToFileString()
		if _, ok := sources[key]; ok {
			continue
		}
		res, ok := g.Resolution(entry.Locator)
		if !ok {
			continue
		}
		sources[key] = resolutionSource(res, archive)
	}
	return lockfile.BuildInstallLockfile(targets, sources)
}

func resolutionSource(res manifest.Resolution, archive *cache.ArchiveCache) lockfile.ResolutionSource {
	deps := make(map[string]string, len(res.Dependencies))
	for name, d := range res.Dependencies {
		deps[name] = d.Range.ToFileString()
	}
	peers := make(map[string]string, len(res.PeerDependencies))
	for name, r := range res.PeerDependencies {
		peers[name] = r.ToFileString()
	}
	optional := make(map[string]string, len(res.OptionalDependencies))
	for name := range res.OptionalDependencies {
		if d, ok := res.Dependencies[name]; ok {
			optional[name] = d.Range.ToFileString()
		}
	}
	missing := make([]string, 0, len(res.MissingPeerDependencies))
	for name := range res.MissingPeerDependencies {
		missing = append(missing, name)
	}

	checksum, _ := archive.Checksum(res.Locator)

	return lockfile.ResolutionSource{
		Locator:    res.Locator,
		Version:    res.Version,
		Checksum:   checksum,
		Deps:       deps,
		Peers:      peers,
		Optional:   optional,
		MissingPrs: missing,
		Cpu:        res.Requirements.Cpu,
		Os:         res.Requirements.Os,
		Libc:       res.Requirements.Libc,
	}
}
