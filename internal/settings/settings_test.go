package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpm/quill/internal/ci"
	"github.com/quillpm/quill/internal/turbopath"
)

func tempRoot(t *testing.T) turbopath.AbsoluteSystemPath {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	root := t.TempDir()
	return turbopath.AbsoluteSystemPathFromUpstream(root)
}

func TestLoadDefaults(t *testing.T) {
	rootDir := tempRoot(t)
	s, err := Load(rootDir)
	require.NoError(t, err)
	assert.Equal(t, "pnp", s.NodeLinker)
	assert.Equal(t, "https://registry.npmjs.org", s.NPMRegistryServer)
	assert.True(t, s.EnableNetwork)
	assert.Equal(t, int64(0), s.MinimumReleaseAgeSeconds)
}

func TestLoadProjectRCOverridesDefaults(t *testing.T) {
	rootDir := tempRoot(t)
	rc := "nodeLinker: node-modules\nnpmRegistryServer: https://registry.example.com\nminimumReleaseAge: 86400\n"
	require.NoError(t, os.WriteFile(filepath.Join(rootDir.ToString(), DefaultRCFilename), []byte(rc), 0o644))

	s, err := Load(rootDir)
	require.NoError(t, err)
	assert.Equal(t, "node-modules", s.NodeLinker)
	assert.Equal(t, "https://registry.example.com", s.NPMRegistryServer)
	assert.Equal(t, int64(86400), s.MinimumReleaseAgeSeconds)
}

func TestLoadInterpolatesEnvVarsInRC(t *testing.T) {
	rootDir := tempRoot(t)
	t.Setenv("CUSTOM_REGISTRY", "https://custom.example.com")
	rc := "npmRegistryServer: ${CUSTOM_REGISTRY}\n"
	require.NoError(t, os.WriteFile(filepath.Join(rootDir.ToString(), DefaultRCFilename), []byte(rc), 0o644))

	s, err := Load(rootDir)
	require.NoError(t, err)
	assert.Equal(t, "https://custom.example.com", s.NPMRegistryServer)
}

func TestLoadResolvesCacheFolderRelativeToDeclaringFile(t *testing.T) {
	rootDir := tempRoot(t)
	rc := "cacheFolder: .custom-cache\n"
	require.NoError(t, os.WriteFile(filepath.Join(rootDir.ToString(), DefaultRCFilename), []byte(rc), 0o644))

	s, err := Load(rootDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rootDir.ToString(), ".custom-cache"), s.CacheFolder.ToString())
}

func TestEnvOverridesProjectRC(t *testing.T) {
	rootDir := tempRoot(t)
	rc := "nodeLinker: node-modules\n"
	require.NoError(t, os.WriteFile(filepath.Join(rootDir.ToString(), DefaultRCFilename), []byte(rc), 0o644))
	t.Setenv("YARN_NODE_LINKER", "pnp")

	s, err := Load(rootDir)
	require.NoError(t, err)
	assert.Equal(t, "pnp", s.NodeLinker)
}

func TestRCFilenameOverride(t *testing.T) {
	rootDir := tempRoot(t)
	t.Setenv("YARN_RC_FILENAME", ".custom-rc.yml")
	require.NoError(t, os.WriteFile(filepath.Join(rootDir.ToString(), ".custom-rc.yml"), []byte("nodeLinker: node-modules\n"), 0o644))

	s, err := Load(rootDir)
	require.NoError(t, err)
	assert.Equal(t, "node-modules", s.NodeLinker)
}

func TestProvenanceMatchesCIPackage(t *testing.T) {
	// ci.IsCi() is latched at process init from the environment, so this
	// only checks Provenance stays consistent with it rather than forcing
	// a particular CI/non-CI outcome.
	vendor, inCI := Provenance()
	assert.Equal(t, ci.IsCi(), inCI)
	if !inCI {
		assert.Equal(t, "", vendor)
	}
}
