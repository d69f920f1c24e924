package resolver

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
)

// maxReentry bounds how many times the virtualizer will re-descend into the
// same physical locator on one call stack, per spec §4.E's "tolerate
// observed dev-dep workspace cycles" note (see DESIGN.md's Open Question
// decision on this value).
const maxReentry = 2

// virtualKey identifies a virtual instance's canonicalization bucket: the
// parent physical locator it was created under, plus the (ident, sorted
// resolved-dependency-locators) hash of the dependency it wraps.
type virtualKey struct {
	parent string
	hash   string
}

// Virtualizer implements spec §4.E's peer-dependency virtualization pass:
// every dependency whose target declares peers is replaced with a virtual
// copy scoped to its parent, so two parents supplying different instances
// of a shared peer never collide on one physical locator.
type Virtualizer struct {
	graph *Graph

	// virtualInstances canonicalizes virtual copies: the same (parent,
	// ident, dep-hash) always yields the same virtual locator, so two
	// siblings needing the identical peer resolution share one instance
	// instead of each minting their own.
	virtualInstances map[virtualKey]locator.Locator

	// dependents records which locators depend on which virtual
	// descriptors, used by the stabilization loop to redirect edges when a
	// virtual instance is found redundant with another.
	dependents map[string][]string

	// peerProvenance maps (root locator, peer ident) to the locator of the
	// root that first provided it, per spec §4.E step 7.
	peerProvenance map[string]map[string]locator.Locator

	visiting map[string]int // physical locator -> current stack depth
}

// NewVirtualizer prepares a virtualization pass over an already
// primary-resolved graph.
func NewVirtualizer(g *Graph) *Virtualizer {
	return &Virtualizer{
		graph:            g,
		virtualInstances: make(map[virtualKey]locator.Locator),
		dependents:       make(map[string][]string),
		peerProvenance:   make(map[string]map[string]locator.Locator),
		visiting:         make(map[string]int),
	}
}

// Run virtualizes every dependency edge reachable from roots. It mutates
// v.graph in place: non-peer dependencies on packages with peers are
// rewritten to point at virtual locators, and new virtual resolutions are
// added to the graph.
func (v *Virtualizer) Run(roots []locator.Locator) error {
	for _, root := range roots {
		if err := v.descend(root, false); err != nil {
			return err
		}
	}
	return v.stabilize()
}

func (v *Virtualizer) descend(l locator.Locator, optionalChain bool) error {
	phys := l.Physical()
	key := phys.ToFileString()
	if v.visiting[key] >= maxReentry {
		return nil
	}
	v.visiting[key]++
	defer func() { v.visiting[key]-- }()

	res, ok := v.graph.Resolution(l)
	if !ok {
		return fmt.Errorf("virtualize: no resolution recorded for %s", l.ToHumanString())
	}

	for name, dep := range res.Dependencies {
		targetLoc, ok := v.graph.Locate(dep)
		if !ok {
			continue
		}
		targetRes, ok := v.graph.Resolution(targetLoc)
		if !ok {
			continue
		}
		if len(targetRes.PeerDependencies) == 0 {
			if err := v.descend(targetLoc, optionalChain || res.OptionalDependencies[name]); err != nil {
				return err
			}
			continue
		}

		virtual, err := v.virtualize(l, res, targetLoc, targetRes)
		if err != nil {
			return err
		}
		res.Dependencies[name] = virtualDescriptor(name, virtual)
		v.graph.recordDescriptor(virtualDescriptor(name, virtual), virtual)

		if err := v.descend(virtual, optionalChain || res.OptionalDependencies[name]); err != nil {
			return err
		}
	}
	v.graph.recordResolution(res)
	return nil
}

// virtualize creates (or reuses) a virtual copy of target, scoped to
// parent, with its peer dependencies injected by looking them up against
// parent's own dependency set (spec §4.E steps 3-4).
func (v *Virtualizer) virtualize(parent locator.Locator, parentRes manifest.Resolution, target locator.Locator, targetRes manifest.Resolution) (locator.Locator, error) {
	virtualDeps := make(map[string]descriptor.Descriptor, len(targetRes.Dependencies))
	for k, d := range targetRes.Dependencies {
		virtualDeps[k] = d
	}
	missing := make(map[string]bool)

	peerNames := make([]string, 0, len(targetRes.PeerDependencies))
	for name := range targetRes.PeerDependencies {
		peerNames = append(peerNames, name)
	}
	sort.Strings(peerNames)

	for _, peerName := range peerNames {
		if provided, ok := parentRes.Dependencies[peerName]; ok {
			virtualDeps[peerName] = provided
			v.recordProvenance(parent, peerName, mustLocate(v.graph, provided))
			continue
		}
		if peerIdentMatchesLocator(peerName, parent.Ident) {
			// Self-peer: synthesize a descriptor pointing straight at the
			// parent locator.
			virtualDeps[peerName] = syntheticDescriptor(parent)
			v.recordProvenance(parent, peerName, parent)
			continue
		}
		if fallback, ok := targetRes.Dependencies[peerName]; ok {
			virtualDeps[peerName] = fallback
			continue
		}
		missing[peerName] = true
	}

	sortedHash := hashDependencies(target.Ident, virtualDeps)
	vkey := virtualKey{parent: parent.ToFileString(), hash: sortedHash}
	if existing, ok := v.virtualInstances[vkey]; ok {
		return existing, nil
	}

	hash := virtualHash(parent, target)
	virtualRef := locator.Reference{Kind: locator.KindVirtual, VirtualInner: &target.Reference, VirtualHash: hash}
	virtualLoc := locator.New(target.Ident, virtualRef)

	virtualRes := targetRes
	virtualRes.Locator = virtualLoc
	virtualRes.Dependencies = virtualDeps
	virtualRes.MissingPeerDependencies = missing
	virtualRes.PeerDependencies = nil

	v.virtualInstances[vkey] = virtualLoc
	v.graph.recordResolution(virtualRes)
	v.dependents[virtualLoc.ToFileString()] = append(v.dependents[virtualLoc.ToFileString()], parent.ToFileString())
	return virtualLoc, nil
}

func (v *Virtualizer) recordProvenance(root locator.Locator, peerName string, provider locator.Locator) {
	key := root.ToFileString()
	if v.peerProvenance[key] == nil {
		v.peerProvenance[key] = make(map[string]locator.Locator)
	}
	if _, ok := v.peerProvenance[key][peerName]; !ok {
		v.peerProvenance[key][peerName] = provider
	}
}

// Provenance returns the locator of the root that first provided peerName
// to root, per spec §4.E step 7 ("final resolutions map every peer ident
// back to the locator of the root that first provided it").
func (v *Virtualizer) Provenance(root locator.Locator, peerName string) (locator.Locator, bool) {
	m, ok := v.peerProvenance[root.ToFileString()]
	if !ok {
		return locator.Locator{}, false
	}
	l, ok := m[peerName]
	return l, ok
}

// stabilize runs the redirect-to-canonical-master loop (spec §4.E step 5)
// until a pass introduces no redirects. Two virtual instances with the same
// parent and the same resolved-dependency hash are collapsed to one,
// the one whose locator string sorts first becoming the master.
func (v *Virtualizer) stabilize() error {
	for {
		buckets := make(map[virtualKey][]locator.Locator)
		for key, loc := range v.virtualInstances {
			buckets[key] = append(buckets[key], loc)
		}
		redirected := false
		for _, locs := range buckets {
			if len(locs) <= 1 {
				continue
			}
			sort.Slice(locs, func(i, j int) bool { return locs[i].ToFileString() < locs[j].ToFileString() })
			master := locs[0]
			for _, dup := range locs[1:] {
				if dup.ToFileString() == master.ToFileString() {
					continue
				}
				v.redirect(dup, master)
				redirected = true
			}
		}
		if !redirected {
			return nil
		}
	}
}

func (v *Virtualizer) redirect(from, to locator.Locator) {
	fromKey, toKey := from.ToFileString(), to.ToFileString()
	delete(v.graph.Resolutions, fromKey)
	for _, res := range v.graph.Resolutions {
		for name, dep := range res.Dependencies {
			if depLoc, ok := v.graph.Locate(dep); ok && depLoc.ToFileString() == fromKey {
				res.Dependencies[name] = virtualDescriptor(name, to)
				v.graph.recordDescriptor(res.Dependencies[name], to)
			}
		}
	}
	for descKey, loc := range v.graph.Descriptors {
		if loc.ToFileString() == fromKey {
			v.graph.Descriptors[descKey] = to
		}
	}
	v.dependents[toKey] = append(v.dependents[toKey], v.dependents[fromKey]...)
	delete(v.dependents, fromKey)
}

// PropagateOptional marks every locator reachable only through optional
// edges as OptionalBuild, per spec §4.E's optional-dependency propagation
// rule: the first non-optional visit clears the mark.
func (v *Virtualizer) PropagateOptional(roots []locator.Locator) {
	optionalOnly := make(map[string]bool)
	visited := make(map[string]bool)

	var walk func(l locator.Locator, viaOptional bool)
	walk = func(l locator.Locator, viaOptional bool) {
		key := l.ToFileString()
		if visited[key] && (!viaOptional || optionalOnly[key]) {
			// Already visited via a non-optional path, or already known
			// optional-only and this path doesn't contradict that.
			if !viaOptional {
				optionalOnly[key] = false
			}
			return
		}
		firstVisit := !visited[key]
		visited[key] = true
		if firstVisit {
			optionalOnly[key] = viaOptional
		} else if !viaOptional {
			optionalOnly[key] = false
		}

		res, ok := v.graph.Resolution(l)
		if !ok {
			return
		}
		for name, dep := range res.Dependencies {
			depLoc, ok := v.graph.Locate(dep)
			if !ok {
				continue
			}
			walk(depLoc, viaOptional || res.OptionalDependencies[name])
		}
	}

	for _, root := range roots {
		walk(root, false)
	}
	for key, isOptional := range optionalOnly {
		if res, ok := v.graph.Resolutions[key]; ok {
			res.OptionalBuild = isOptional
			v.graph.Resolutions[key] = res
		}
	}
}

func virtualDescriptor(name string, l locator.Locator) descriptor.Descriptor {
	id, err := ident.Parse(name)
	if err != nil {
		id = ident.New("", name)
	}
	return descriptor.New(id, descriptor.Range{
		Kind:         descriptor.KindVirtual,
		VirtualInner: nil,
		VirtualHash:  l.Reference.VirtualHash,
	}, nil)
}

func syntheticDescriptor(l locator.Locator) descriptor.Descriptor {
	return descriptor.New(l.Ident, descriptor.Range{Kind: descriptor.KindTag, Tag: l.Reference.ToFileString()}, nil)
}

func peerIdentMatchesLocator(peerName string, id ident.Ident) bool {
	return peerName == id.String()
}

func mustLocate(g *Graph, d descriptor.Descriptor) locator.Locator {
	l, _ := g.Locate(d)
	return l
}

// virtualHash content-addresses a virtual locator on (parent, target),
// rendered as a 16-character hex digest per spec §3.2/§4.H.
func virtualHash(parent, target locator.Locator) string {
	sum := sha1.Sum([]byte(parent.ToFileString() + "\x00" + target.ToFileString()))
	return hex.EncodeToString(sum[:])[:16]
}

// hashDependencies hashes (ident, sorted resolved dependency locators) for
// the stabilization loop's canonicalization key (spec §4.E step 5).
func hashDependencies(id ident.Ident, deps map[string]descriptor.Descriptor) string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(id.String())
	for _, name := range names {
		b.WriteByte('\x00')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(deps[name].ToFileString())
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
