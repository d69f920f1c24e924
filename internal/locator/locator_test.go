package locator

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/quillpm/quill/internal/ident"
)

func mustIdent(t *testing.T, raw string) ident.Ident {
	t.Helper()
	id, err := ident.Parse(raw)
	assert.NilError(t, err)
	return id
}

func TestReferenceToFileString(t *testing.T) {
	cases := []struct {
		name string
		ref  Reference
		want string
	}{
		{"shorthand semver", Reference{Kind: KindShorthandSemver, Version: "1.2.3"}, "1.2.3"},
		{"registry", Reference{Kind: KindRegistry, Version: "1.2.3"}, "npm:1.2.3"},
		{
			"registry non-conventional url",
			Reference{Kind: KindRegistry, Version: "1.2.3", NonConventionalURL: "https://example.com/t.tgz"},
			"npm:1.2.3::https://example.com/t.tgz",
		},
		{"url", Reference{Kind: KindURL, URL: "https://example.com/foo.tgz"}, "https://example.com/foo.tgz"},
		{"folder", Reference{Kind: KindFolder, Path: "./packages/foo"}, "file:./packages/foo"},
		{"link", Reference{Kind: KindLink, Path: "../foo"}, "link:../foo"},
		{"portal", Reference{Kind: KindPortal, Path: "../foo"}, "portal:../foo"},
		{"workspace", Reference{Kind: KindWorkspaceIdent, WorkspacePath: "packages/foo"}, "workspace:packages/foo"},
		{"git", Reference{Kind: KindGit, Repo: "https://github.com/foo/bar.git", Commit: "abc123"}, "https://github.com/foo/bar.git#commit=abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ref.ToFileString(), tc.want)
		})
	}
}

func TestPatchReferenceRoundTripsViaUrlEncodedInner(t *testing.T) {
	inner := New(mustIdent(t, "lodash"), Reference{Kind: KindRegistry, Version: "4.17.21"})
	r := Reference{Kind: KindPatch, Inner: &inner, PatchPaths: []string{"./my.patch"}}
	assert.Equal(t, r.ToFileString(), "patch:lodash@npm%3A4.17.21#./my.patch")
}

func TestVirtualPhysicalUnwrap(t *testing.T) {
	id := mustIdent(t, "react-dom")
	phys := Reference{Kind: KindRegistry, Version: "17.0.1"}
	virt := New(id, Reference{Kind: KindVirtual, VirtualHash: "0123456789abcdef", VirtualInner: &phys})

	assert.Assert(t, virt.IsVirtual())
	unwrapped := virt.Physical()
	assert.Assert(t, !unwrapped.IsVirtual())
	assert.Equal(t, unwrapped.ToFileString(), "react-dom@npm:17.0.1")

	// Physical() is a no-op on an already-physical locator.
	again := unwrapped.Physical()
	assert.Equal(t, again.ToFileString(), unwrapped.ToFileString())
}

func TestLocatorEqualIsStructural(t *testing.T) {
	a := New(mustIdent(t, "lodash"), Reference{Kind: KindRegistry, Version: "4.17.21"})
	b := New(mustIdent(t, "lodash"), Reference{Kind: KindRegistry, Version: "4.17.21"})
	c := New(mustIdent(t, "lodash"), Reference{Kind: KindRegistry, Version: "4.17.20"})

	assert.Assert(t, a.Equal(b))
	assert.Assert(t, !a.Equal(c))
}

func TestHumanStringOmitsVirtualHash(t *testing.T) {
	id := mustIdent(t, "react-dom")
	phys := Reference{Kind: KindRegistry, Version: "17.0.1"}
	virt := New(id, Reference{Kind: KindVirtual, VirtualHash: "0123456789abcdef", VirtualInner: &phys})

	human := virt.ToHumanString()
	assert.Equal(t, human, "react-dom@17.0.1 [virtual]")

	ws := New(mustIdent(t, "app"), Reference{Kind: KindWorkspaceIdent, WorkspacePath: "packages/app"})
	assert.Equal(t, ws.ToHumanString(), "app@workspace:packages/app")
}
