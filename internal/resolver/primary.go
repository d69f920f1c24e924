package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
)

// ResolutionError wraps a hard failure (bad range, network error, ident
// parse failure) encountered while resolving one descriptor. A missing peer
// dependency is not one of these: it is recorded into a Resolution's
// MissingPeerDependencies during virtualization instead of aborting.
type ResolutionError struct {
	Descriptor descriptor.Descriptor
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Descriptor.ToHumanString(), e.Err)
}
func (e *ResolutionError) Unwrap() error { return e.Err }

// Primary runs the primary-resolution phase: starting from a set of root
// descriptors (each workspace's declared deps, plus the workspaces
// themselves), it drains a work queue until every reachable descriptor has
// a locator and every locator has a resolution. Concurrent descriptors are
// resolved in parallel, bounded by Concurrency, mirroring teacher
// internal/core/engine.go's semaphore-bounded DAG walk.
type Primary struct {
	Registry    RegistrySource
	Packages    PackageSource
	Workspaces  WorkspaceTable
	AgeGate     AgeGate
	Concurrency int

	mu    sync.Mutex
	queue []descriptor.Descriptor
	seen  map[string]bool
}

// NewPrimary constructs a Primary resolver. Concurrency <= 0 defaults to 8.
func NewPrimary(registry RegistrySource, packages PackageSource, workspaces WorkspaceTable, gate AgeGate, concurrency int) *Primary {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Primary{
		Registry:    registry,
		Packages:    packages,
		Workspaces:  workspaces,
		AgeGate:     gate,
		Concurrency: concurrency,
		seen:        make(map[string]bool),
	}
}

// Run resolves every descriptor reachable from roots into g, recursing into
// each resolution's own dependencies, until the queue is empty.
func (p *Primary) Run(ctx context.Context, g *Graph, roots []descriptor.Descriptor) error {
	p.enqueue(roots...)

	for {
		batch := p.drain()
		if len(batch) == 0 {
			return nil
		}

		sem := make(chan struct{}, p.Concurrency)
		errs := make(chan error, len(batch))
		var wg sync.WaitGroup
		for _, d := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(d descriptor.Descriptor) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := p.resolveOne(ctx, g, d); err != nil {
					errs <- err
				}
			}(d)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				return err
			}
		}
	}
}

func (p *Primary) enqueue(ds ...descriptor.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range ds {
		key := d.ToFileString()
		if p.seen[key] {
			continue
		}
		p.seen[key] = true
		p.queue = append(p.queue, d)
	}
}

func (p *Primary) drain() []descriptor.Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.queue
	p.queue = nil
	return batch
}

func (p *Primary) resolveOne(ctx context.Context, g *Graph, d descriptor.Descriptor) error {
	l, res, err := p.resolveDescriptor(ctx, d)
	if err != nil {
		return &ResolutionError{Descriptor: d, Err: err}
	}

	g.mu().Lock()
	g.recordDescriptor(d, l)
	if _, exists := g.Resolutions[l.ToFileString()]; !exists {
		g.recordResolution(res)
		g.mu().Unlock()

		deps := make([]descriptor.Descriptor, 0, len(res.Dependencies))
		for _, dep := range res.Dependencies {
			deps = append(deps, dep)
		}
		sort.Sort(descriptor.ByFileString(deps))
		p.enqueue(deps...)
	} else {
		g.mu().Unlock()
	}
	return nil
}

// resolveDescriptor dispatches on range kind per spec §4.E.
func (p *Primary) resolveDescriptor(ctx context.Context, d descriptor.Descriptor) (locator.Locator, manifest.Resolution, error) {
	switch d.Range.Kind {
	case descriptor.KindSemver:
		return p.resolveRegistrySemver(ctx, d.Ident, d.Range.Constraint)
	case descriptor.KindTag:
		return p.resolveRegistryTag(ctx, d.Ident, d.Range.Tag)
	case descriptor.KindRegistrySemver, descriptor.KindRegistryTag:
		return p.resolveAliased(ctx, d)
	case descriptor.KindWorkspaceMagic, descriptor.KindWorkspaceSemver, descriptor.KindWorkspaceIdent, descriptor.KindWorkspacePath:
		return p.resolveWorkspace(ctx, d)
	default:
		return p.resolveViaFetcher(ctx, d)
	}
}

func (p *Primary) resolveRegistrySemver(ctx context.Context, id ident.Ident, constraint string) (locator.Locator, manifest.Resolution, error) {
	versions, err := p.Registry.Versions(ctx, id)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, fmt.Errorf("invalid semver range %q: %w", constraint, err)
	}
	best, err := p.selectGreatest(id, versions, func(v *semver.Version) bool {
		return c.Check(v)
	}, isPrerelease(constraint))
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	return p.resolveRegistryVersion(ctx, id, best)
}

func (p *Primary) resolveRegistryTag(ctx context.Context, id ident.Ident, tag string) (locator.Locator, manifest.Resolution, error) {
	versions, err := p.Registry.Versions(ctx, id)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	pinned, ok := versions.DistTags[tag]
	if !ok {
		return locator.Locator{}, manifest.Resolution{}, fmt.Errorf("dist-tag %q not found for %s", tag, id.String())
	}
	pinnedVer, err := semver.NewVersion(pinned)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	// The tag's own pointed-at version is itself the upper bound; select the
	// greatest version <= it, still subject to the age gate.
	best, err := p.selectGreatest(id, versions, func(v *semver.Version) bool {
		return v.Compare(pinnedVer) <= 0
	}, pinnedVer.Prerelease() != "")
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	return p.resolveRegistryVersion(ctx, id, best)
}

func (p *Primary) selectGreatest(id ident.Ident, rv RegistryVersions, satisfies func(*semver.Version) bool, allowPrerelease bool) (string, error) {
	var candidates []*semver.Version
	for _, raw := range rv.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if v.Prerelease() != "" && !allowPrerelease {
			continue
		}
		if !satisfies(v) {
			continue
		}
		if !p.AgeGate.Allows(id.String(), v.Original(), rv.ReleaseTimes[v.Original()], now()) {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no version of %s satisfies the requested range", id.String())
	}
	sort.Sort(sort.Reverse(semver.Collection(candidates)))
	return candidates[0].Original(), nil
}

func (p *Primary) resolveRegistryVersion(ctx context.Context, id ident.Ident, version string) (locator.Locator, manifest.Resolution, error) {
	l := locator.New(id, locator.Reference{Kind: locator.KindRegistry, Version: version})
	m, err := p.Registry.Manifest(ctx, l)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	res, err := manifest.NewResolutionFromManifest(l, m, nil)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	return l, res, nil
}

// resolveAliased resolves the inner registry descriptor then rewrites the
// returned locator's ident to the outer (aliasing) ident, per spec §4.E.
func (p *Primary) resolveAliased(ctx context.Context, d descriptor.Descriptor) (locator.Locator, manifest.Resolution, error) {
	innerIdent, err := ident.Parse(d.Range.AliasIdent)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	var l locator.Locator
	var res manifest.Resolution
	if d.Range.Kind == descriptor.KindRegistrySemver {
		l, res, err = p.resolveRegistrySemver(ctx, innerIdent, d.Range.Constraint)
	} else {
		l, res, err = p.resolveRegistryTag(ctx, innerIdent, d.Range.Tag)
	}
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	l.Ident = d.Ident
	res.Locator = l
	return l, res, nil
}

func (p *Primary) resolveWorkspace(ctx context.Context, d descriptor.Descriptor) (locator.Locator, manifest.Resolution, error) {
	var (
		l  locator.Locator
		m  *manifest.Manifest
		ok bool
	)
	switch d.Range.Kind {
	case descriptor.KindWorkspacePath:
		l, m, ok = p.Workspaces.ByPath(d.Range.WorkspacePath)
	case descriptor.KindWorkspaceIdent:
		wid, err := ident.Parse(d.Range.WorkspaceIdent)
		if err != nil {
			return locator.Locator{}, manifest.Resolution{}, err
		}
		l, m, ok = p.Workspaces.ByIdent(wid)
	default:
		// workspace-magic ("*", "^", "~", exact) and workspace-semver both
		// address the workspace by the descriptor's own ident.
		l, m, ok = p.Workspaces.ByIdent(d.Ident)
	}
	if !ok {
		return locator.Locator{}, manifest.Resolution{}, fmt.Errorf("no workspace found for %s", d.ToHumanString())
	}
	res, err := manifest.NewResolutionFromManifest(l, m, nil)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	return l, res, nil
}

func (p *Primary) resolveViaFetcher(ctx context.Context, d descriptor.Descriptor) (locator.Locator, manifest.Resolution, error) {
	if p.Packages == nil {
		return locator.Locator{}, manifest.Resolution{}, fmt.Errorf("no package source configured for range kind %v", d.Range.Kind)
	}
	l, m, err := p.Packages.Resolve(ctx, Unresolved{Ident: d.Ident, Range: d.Range, Parent: d.Parent})
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	parentForBinding := func(descriptor.Range) *locator.Locator { return &l }
	res, err := manifest.NewResolutionFromManifest(l, m, parentForBinding)
	if err != nil {
		return locator.Locator{}, manifest.Resolution{}, err
	}
	return l, res, nil
}

// isPrerelease reports whether a constraint string itself names a
// pre-release version, the trigger for spec §4.E's "pre-releases only if
// the selected dist-tag/range is itself a pre-release" rule.
func isPrerelease(constraint string) bool {
	v, err := semver.NewVersion(constraint)
	return err == nil && v.Prerelease() != ""
}
