package lockfile

import (
	"testing"

	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryLocator(t *testing.T, name, version string) locator.Locator {
	t.Helper()
	id, err := ident.Parse(name)
	require.NoError(t, err)
	return locator.New(id, locator.Reference{Kind: locator.KindRegistry, Version: version})
}

func semverDescriptor(t *testing.T, name, constraint string) descriptor.Descriptor {
	t.Helper()
	id, err := ident.Parse(name)
	require.NoError(t, err)
	rng, err := descriptor.Parse(constraint)
	require.NoError(t, err)
	return descriptor.New(id, rng, nil)
}

func TestBuildInstallLockfileGroupsSharedResolution(t *testing.T) {
	aLoc := registryLocator(t, "a", "1.2.3")

	targets := []DescriptorTarget{
		{Descriptor: semverDescriptor(t, "a", "^1.0.0"), Locator: aLoc},
		{Descriptor: semverDescriptor(t, "a", "1.2.3"), Locator: aLoc},
	}
	resolutions := map[string]ResolutionSource{
		aLoc.ToFileString(): {Locator: aLoc, Version: "1.2.3"},
	}

	lf, err := BuildInstallLockfile(targets, resolutions)
	require.NoError(t, err)
	assert.Equal(t, installLockfileVersion, lf.Metadata.Version)
	assert.Len(t, lf.Entries, 1)

	for key, entry := range lf.Entries {
		assert.Equal(t, []string{"a@1.2.3", "a@^1.0.0"}, ExpandMultiKey(key))
		assert.Equal(t, "1.2.3", entry.Resolution.Version)
	}
}

func TestInstallLockfileEncodeDeterministic(t *testing.T) {
	aLoc := registryLocator(t, "a", "1.0.0")
	lf := &InstallLockfile{
		Metadata: InstallMetadata{Version: installLockfileVersion},
		Entries: map[string]InstallEntry{
			"a@^1.0.0": {Resolution: InstallResolution{Resolution: aLoc.ToFileString(), Version: "1.0.0"}},
		},
	}

	first, err := lf.Encode()
	require.NoError(t, err)
	second, err := lf.Encode()
	require.NoError(t, err)
	assert.True(t, equalBytes(first, second))
}

func TestParseInstallLockfileRoundTrip(t *testing.T) {
	aLoc := registryLocator(t, "a", "1.0.0")
	original := &InstallLockfile{
		Metadata: InstallMetadata{Version: installLockfileVersion},
		Entries: map[string]InstallEntry{
			"a@^1.0.0": {Resolution: InstallResolution{Resolution: aLoc.ToFileString(), Version: "1.0.0"}},
		},
	}

	data, err := original.Encode()
	require.NoError(t, err)

	parsed, err := ParseInstallLockfile(data)
	require.NoError(t, err)
	assert.Equal(t, original.Metadata.Version, parsed.Metadata.Version)
	assert.Equal(t, original.Entries["a@^1.0.0"].Resolution.Version, parsed.Entries["a@^1.0.0"].Resolution.Version)
}
