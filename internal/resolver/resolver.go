// Package resolver implements descriptor→locator resolution and
// peer-dependency virtualization: the install graph described in spec
// §4.E. It operates over internal/descriptor, internal/locator and
// internal/manifest values, delegating the actual byte-fetching and
// registry-metadata lookups to collaborators it accepts as interfaces
// (RegistrySource, PackageSource, WorkspaceTable) so internal/fetch and
// internal/project can supply the concrete implementations without this
// package importing either.
//
// Grounded on teacher internal/core/engine.go's DAG-walk-with-visitor shape
// (github.com/pyr-sh/dag), generalized from "package-task" vertices to
// "resolve one descriptor" vertices, and on original_source's resolver.rs /
// tree_resolver.rs for the virtualization algorithm itself.
package resolver

import (
	"sync"
	"time"

	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
)

// Graph is the resolver's output (and working state): every descriptor seen
// so far resolves to a locator, and every locator resolves to a Resolution.
// Both maps are keyed by the canonical ToFileString() form so structurally
// equal values collapse to one entry regardless of identity. Lock guards
// concurrent access during Primary.Run's parallel resolution batches.
type Graph struct {
	Descriptors       map[string]locator.Locator
	descriptorObjects map[string]descriptor.Descriptor
	Resolutions       map[string]manifest.Resolution
	Lock              sync.Mutex
}

// NewGraph returns an empty resolution graph.
func NewGraph() *Graph {
	return &Graph{
		Descriptors:       make(map[string]locator.Locator),
		descriptorObjects: make(map[string]descriptor.Descriptor),
		Resolutions:       make(map[string]manifest.Resolution),
	}
}

func (g *Graph) mu() *sync.Mutex { return &g.Lock }

// now is the single wall-clock read point for the resolver, so age-gate
// decisions made during one install all measure against the same instant.
func now() time.Time { return time.Now() }

// Locate returns the locator a descriptor was resolved to, if any.
func (g *Graph) Locate(d descriptor.Descriptor) (locator.Locator, bool) {
	l, ok := g.Descriptors[d.ToFileString()]
	return l, ok
}

// Resolution returns the resolution recorded for a locator, if any.
func (g *Graph) Resolution(l locator.Locator) (manifest.Resolution, bool) {
	r, ok := g.Resolutions[l.ToFileString()]
	return r, ok
}

// recordDescriptor links a descriptor to a locator.
func (g *Graph) recordDescriptor(d descriptor.Descriptor, l locator.Locator) {
	g.Descriptors[d.ToFileString()] = l
	g.descriptorObjects[d.ToFileString()] = d
}

// DescriptorEntry pairs a recorded descriptor with the locator it resolved
// to, for callers that need the descriptor's own fields (e.g. its range
// kind) rather than just its string key.
type DescriptorEntry struct {
	Descriptor descriptor.Descriptor
	Locator    locator.Locator
}

// DescriptorEntries returns every descriptor recorded so far paired with
// its resolved locator, used by internal/project to decide which
// descriptors are transient (virtual/missing-peer) and should never be
// persisted to the lockfile.
func (g *Graph) DescriptorEntries() []DescriptorEntry {
	out := make([]DescriptorEntry, 0, len(g.descriptorObjects))
	for key, d := range g.descriptorObjects {
		out = append(out, DescriptorEntry{Descriptor: d, Locator: g.Descriptors[key]})
	}
	return out
}

// recordResolution stores (or overwrites, for a refresh) a locator's
// resolution.
func (g *Graph) recordResolution(r manifest.Resolution) {
	g.Resolutions[r.Locator.ToFileString()] = r
}

// AgeGate implements spec §4.E's minimum-age gate: a configured duration
// below which a version is rejected from automatic selection, unless it is
// explicitly preapproved or the registry lacks a release time for it.
type AgeGate struct {
	MinAge      time.Duration
	Preapproved []PreapprovedVersion
}

// PreapprovedVersion names an ident+version pattern exempt from the age
// gate (e.g. a security patch the operator wants installable immediately).
type PreapprovedVersion struct {
	IdentPattern  string
	VersionExact  string
}

// Allows reports whether version may be automatically selected. releaseTime
// is the zero time when the registry provided no release-time metadata for
// this version, which the spec requires treating as "accept".
func (g AgeGate) Allows(identString, version string, releaseTime time.Time, now time.Time) bool {
	if g.MinAge <= 0 {
		return true
	}
	if releaseTime.IsZero() {
		return true
	}
	if now.Sub(releaseTime) >= g.MinAge {
		return true
	}
	for _, p := range g.Preapproved {
		if p.IdentPattern == identString && p.VersionExact == version {
			return true
		}
	}
	return false
}
