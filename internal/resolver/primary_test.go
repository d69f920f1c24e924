package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry implements RegistrySource over an in-memory manifest table,
// for exercising Primary without a network collaborator.
type fakeRegistry struct {
	manifests map[string]*manifest.Manifest // "name@version" -> manifest
	versions  map[string][]string           // name -> published versions
	distTags  map[string]map[string]string  // name -> tag -> version
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		manifests: map[string]*manifest.Manifest{},
		versions:  map[string][]string{},
		distTags:  map[string]map[string]string{},
	}
}

func (f *fakeRegistry) add(name, version string, m *manifest.Manifest) {
	f.manifests[name+"@"+version] = m
	f.versions[name] = append(f.versions[name], version)
}

func (f *fakeRegistry) Versions(ctx context.Context, id ident.Ident) (RegistryVersions, error) {
	return RegistryVersions{
		Versions:     f.versions[id.String()],
		DistTags:     f.distTags[id.String()],
		ReleaseTimes: map[string]time.Time{},
	}, nil
}

func (f *fakeRegistry) Manifest(ctx context.Context, l locator.Locator) (*manifest.Manifest, error) {
	m := f.manifests[l.Ident.String()+"@"+l.Reference.Version]
	if m == nil {
		m = &manifest.Manifest{Name: l.Ident.String(), Version: l.Reference.Version}
	}
	return m, nil
}

func semverDep(name, constraint string) descriptor.Descriptor {
	id, _ := ident.Parse(name)
	rng, _ := descriptor.Parse(constraint)
	return descriptor.New(id, rng, nil)
}

func TestPrimaryResolvesTransitiveRegistryTree(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("leaf", "1.0.0", &manifest.Manifest{Name: "leaf", Version: "1.0.0"})
	reg.add("mid", "2.0.0", &manifest.Manifest{
		Name: "mid", Version: "2.0.0",
		Dependencies: map[string]string{"leaf": "^1.0.0"},
	})

	p := NewPrimary(reg, nil, nil, AgeGate{}, 4)
	g := NewGraph()

	err := p.Run(context.Background(), g, []descriptor.Descriptor{semverDep("mid", "^2.0.0")})
	require.NoError(t, err)

	midLoc, ok := g.Locate(semverDep("mid", "^2.0.0"))
	require.True(t, ok)
	assert.Equal(t, "2.0.0", midLoc.Reference.Version)

	midRes, ok := g.Resolution(midLoc)
	require.True(t, ok)
	leafDesc := midRes.Dependencies["leaf"]
	leafLoc, ok := g.Locate(leafDesc)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", leafLoc.Reference.Version)
}

func TestPrimarySelectsGreatestSatisfyingVersion(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("pkg", "1.0.0", &manifest.Manifest{Name: "pkg", Version: "1.0.0"})
	reg.add("pkg", "1.2.0", &manifest.Manifest{Name: "pkg", Version: "1.2.0"})
	reg.add("pkg", "2.0.0", &manifest.Manifest{Name: "pkg", Version: "2.0.0"})

	p := NewPrimary(reg, nil, nil, AgeGate{}, 4)
	g := NewGraph()

	err := p.Run(context.Background(), g, []descriptor.Descriptor{semverDep("pkg", "^1.0.0")})
	require.NoError(t, err)

	loc, ok := g.Locate(semverDep("pkg", "^1.0.0"))
	require.True(t, ok)
	assert.Equal(t, "1.2.0", loc.Reference.Version)
}

func TestPrimaryInjectsNodeGypDependency(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("native", "1.0.0", &manifest.Manifest{
		Name: "native", Version: "1.0.0",
		Scripts: map[string]string{"install": "node-gyp rebuild"},
	})
	reg.add("node-gyp", "9.0.0", &manifest.Manifest{Name: "node-gyp", Version: "9.0.0"})

	p := NewPrimary(reg, nil, nil, AgeGate{}, 4)
	g := NewGraph()

	err := p.Run(context.Background(), g, []descriptor.Descriptor{semverDep("native", "^1.0.0")})
	require.NoError(t, err)

	loc, _ := g.Locate(semverDep("native", "^1.0.0"))
	res, _ := g.Resolution(loc)
	_, ok := res.Dependencies["node-gyp"]
	assert.True(t, ok)
}
