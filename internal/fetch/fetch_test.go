package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/quillpm/quill/internal/cache"
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/resolver"
	"github.com/quillpm/quill/internal/turbopath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeUnresolvedURL(url string) resolver.Unresolved {
	return resolver.Unresolved{Ident: ident.New("", "widget"), Range: descriptor.Range{Kind: descriptor.KindURL, Path: url}}
}

func fakeUnresolvedPath(path string) resolver.Unresolved {
	return resolver.Unresolved{Ident: ident.New("", "local-pkg"), Range: descriptor.Range{Kind: descriptor.KindFolder, Path: path}}
}

func newTestFetcher(t *testing.T, registryBase string) *Fetcher {
	t.Helper()
	archive, err := cache.NewArchiveCache(turbopath.AbsoluteSystemPathFromUpstream(t.TempDir()), false)
	require.NoError(t, err)
	manifest, err := cache.NewManifestCache(t.TempDir(), false)
	require.NoError(t, err)

	f, err := NewFetcher(archive, manifest, RegistryConfig{Base: registryBase}, turbopath.AbsoluteSystemPathFromUpstream(t.TempDir()), false)
	require.NoError(t, err)
	return f
}

// buildTarGz builds an in-memory npm-shaped tarball: every entry wrapped in
// a leading "package/" directory, matching what extractTarGz expects to
// strip.
func buildTarGz(t *testing.T, files map[string]string) string {
	t.Helper()
	path := t.TempDir() + "/pkg.tgz"
	f, err := turbopath.AbsoluteSystemPathFromUpstream(path).OpenFile(os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: "package/" + name, Mode: 0644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func TestDecodeParsedMetadata(t *testing.T) {
	body := []byte(`{
		"dist-tags": {"latest": "1.2.0"},
		"versions": {
			"1.0.0": {"dist": {"tarball": "https://example.test/a-1.0.0.tgz", "shasum": "abc"}},
			"1.2.0": {"dist": {"tarball": "https://example.test/a-1.2.0.tgz", "shasum": "def"}}
		},
		"time": {"1.0.0": "2020-01-01T00:00:00.000Z"}
	}`)
	parsed, err := decodeParsedMetadata(body)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1.0.0", "1.2.0"}, parsed.Versions)
	assert.Equal(t, "1.2.0", parsed.DistTags["latest"])
}

func TestPackagePathEscapesScope(t *testing.T) {
	f := &Fetcher{}
	id := ident.New("@scope", "name")
	assert.Equal(t, "/%40scope/name", f.packagePath(id))

	id2 := ident.New("", "lodash")
	assert.Equal(t, "/lodash", f.packagePath(id2))
}

func TestVersionsParsesRegistryMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"dist-tags":{"latest":"2.0.0"},"versions":{"2.0.0":{"dist":{"tarball":"https://example.test/t.tgz"}}},"time":{}}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	versions, err := f.Versions(context.Background(), ident.New("", "widget"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, versions.Versions)
	assert.Equal(t, "2.0.0", versions.DistTags["latest"])
}

func TestResolveURLDownloadsAndArchives(t *testing.T) {
	tgz := buildTarGz(t, map[string]string{"package.json": `{"name":"widget","version":"1.0.0"}`})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := turbopath.AbsoluteSystemPathFromUpstream(tgz).ReadFile()
		require.NoError(t, err)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	l, m, err := f.resolveURL(context.Background(), fakeUnresolvedURL(srv.URL+"/widget.tgz"))
	require.NoError(t, err)
	assert.Equal(t, locator.KindURL, l.Reference.Kind)
	assert.Equal(t, "widget", m.Name)

	ok := f.Archive.Exists(l)
	assert.True(t, ok.Local)
}

func TestResolveFolderReadsManifestDirectly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, turbopath.AbsoluteSystemPathFromUpstream(dir).UntypedJoin("package.json").WriteFile(
		[]byte(`{"name":"local-pkg","version":"0.0.1"}`), 0644))

	f := newTestFetcher(t, "http://example.invalid")
	f.ContextDir = func(parent *locator.Locator) (turbopath.AbsoluteSystemPath, error) {
		return turbopath.AbsoluteSystemPathFromUpstream(dir), nil
	}

	l, m, err := f.resolveFolder(context.Background(), fakeUnresolvedPath("."))
	require.NoError(t, err)
	assert.Equal(t, locator.KindFolder, l.Reference.Kind)
	assert.Equal(t, "local-pkg", m.Name)
}

func TestResolveLinkWithoutManifestStillResolves(t *testing.T) {
	dir := t.TempDir()

	f := newTestFetcher(t, "http://example.invalid")
	f.ContextDir = func(parent *locator.Locator) (turbopath.AbsoluteSystemPath, error) {
		return turbopath.AbsoluteSystemPathFromUpstream(dir), nil
	}

	l, m, err := f.resolveLinkOrPortal(context.Background(), fakeUnresolvedPath("."), locator.KindLink)
	require.NoError(t, err)
	assert.Equal(t, locator.KindLink, l.Reference.Kind)
	assert.NotNil(t, m)
}
