package manifest

import (
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
)

// Requirements is the platform-gating subset of a resolution: the
// cpu/os/libc arrays a registry manifest can carry to mark a package
// unusable on certain platforms.
type Requirements struct {
	Os   []string
	Cpu  []string
	Libc []string
}

// Resolution is the full metadata the resolver records for one locator:
// everything needed to expand its dependencies and to serialize a lockfile
// entry, per spec §3 "resolution = (locator, version, dependency
// descriptors, peer-dependency ranges, optional-dependency set, platform
// requirements)".
type Resolution struct {
	Locator locator.Locator
	Version string

	Requirements Requirements

	// Dependencies maps each runtime dependency's ident to the descriptor
	// the resolver should recurse into. Optional dependencies are folded
	// in here too (see Manifest.AllDependencies) — OptionalDependencies
	// below records which of these idents were optional, for the build
	// executor's best-effort-install semantics.
	Dependencies map[string]descriptor.Descriptor

	// PeerDependencies records the ranges this package expects its parent
	// to already provide. Populated before virtualization; consumed and
	// replaced by virtualization's dependency injection.
	PeerDependencies map[string]descriptor.Range

	OptionalDependencies map[string]bool

	// MissingPeerDependencies accumulates peer idents that virtualization
	// could not satisfy from any ancestor.
	MissingPeerDependencies map[string]bool

	// OptionalBuild is set when every root-to-here path passes through an
	// optional edge; a failed fetch/build for such a locator degrades to a
	// warning instead of aborting the install.
	OptionalBuild bool
}

// NewResolutionFromManifest builds a Resolution from a parsed manifest, applying the
// normalization rule from the peer-dependency model: a peer declared with
// no explicit range defaults to "*".
func NewResolutionFromManifest(loc locator.Locator, m *Manifest, parentForBinding func(descriptor.Range) *locator.Locator) (Resolution, error) {
	res := Resolution{
		Locator:                 loc,
		Version:                 m.Version,
		Requirements:            Requirements{Os: m.Os, Cpu: m.Cpu, Libc: m.Libc},
		Dependencies:            map[string]descriptor.Descriptor{},
		PeerDependencies:        map[string]descriptor.Range{},
		OptionalDependencies:    map[string]bool{},
		MissingPeerDependencies: map[string]bool{},
	}

	for name, rangeStr := range m.Dependencies {
		if err := res.addDependency(name, rangeStr, parentForBinding); err != nil {
			return Resolution{}, err
		}
	}
	for name, rangeStr := range m.OptionalDependencies {
		if err := res.addDependency(name, rangeStr, parentForBinding); err != nil {
			return Resolution{}, err
		}
		res.OptionalDependencies[name] = true
	}
	for name, rangeStr := range m.PeerDependencies {
		r, err := descriptor.Parse(rangeStr)
		if err != nil {
			r = descriptor.Range{Kind: descriptor.KindTag, Tag: "*"}
		}
		res.PeerDependencies[name] = r
	}

	if m.UsesNodeGyp() {
		if _, ok := res.Dependencies["node-gyp"]; !ok {
			res.Dependencies["node-gyp"] = descriptor.New(ident.New("", "node-gyp"), descriptor.Range{Kind: descriptor.KindSemver, Constraint: "*"}, nil)
		}
	}

	return res, nil
}

func (r *Resolution) addDependency(name, rangeStr string, parentForBinding func(descriptor.Range) *locator.Locator) error {
	id, err := ident.Parse(name)
	if err != nil {
		return err
	}
	rng, err := descriptor.Parse(rangeStr)
	if err != nil {
		return err
	}
	var parent *locator.Locator
	if rng.MustBind() && parentForBinding != nil {
		parent = parentForBinding(rng)
	}
	r.Dependencies[name] = descriptor.New(id, rng, parent)
	return nil
}
