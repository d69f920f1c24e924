package descriptor

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"semver caret", "^1.2.3", KindSemver},
		{"semver tilde", "~1.0.0", KindSemver},
		{"semver x-range", "1.x", KindSemver},
		{"tag latest", "latest", KindTag},
		{"tag next", "next", KindTag},
		{"registry aliased semver", "npm:foo@^1.2.3", KindRegistrySemver},
		{"registry aliased tag", "npm:foo@canary", KindRegistryTag},
		{"workspace star", "workspace:*", KindWorkspaceMagic},
		{"workspace caret", "workspace:^", KindWorkspaceMagic},
		{"workspace tilde", "workspace:~", KindWorkspaceMagic},
		{"workspace semver", "workspace:^1.0.0", KindWorkspaceSemver},
		{"workspace ident", "workspace:some-pkg", KindWorkspaceIdent},
		{"workspace path relative", "workspace:./packages/foo", KindWorkspacePath},
		{"workspace path parent", "workspace:../foo", KindWorkspacePath},
		{"url", "https://example.com/foo.tgz", KindURL},
		{"tarball path", "./foo-1.0.0.tgz", KindTarball},
		{"tarball tar.gz", "bar-2.0.0.tar.gz", KindTarball},
		{"folder relative", "./packages/foo", KindFolder},
		{"folder parent", "../foo", KindFolder},
		{"link", "link:../foo", KindLink},
		{"portal", "portal:../foo", KindPortal},
		{"patch", "patch:lodash@npm%3A4.17.21#./my.patch", KindPatch},
		{"git dot-git", "git@github.com:foo/bar.git", KindGit},
		{"git explicit", "git+https://github.com/foo/bar.git#main", KindGit},
		{"github short", "github:foo/bar#main", KindGit},
		{"virtual", "virtual:abcdef0123456789#^1.0.0", KindVirtual},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Parse(tc.raw)
			assert.NilError(t, err)
			assert.Equal(t, r.Kind, tc.kind)
		})
	}
}

func TestParseEmptyErrors(t *testing.T) {
	_, err := Parse("")
	assert.Assert(t, err != nil)
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"^1.2.3",
		"latest",
		"npm:foo@^1.2.3",
		"npm:foo@canary",
		"workspace:*",
		"workspace:^",
		"workspace:^1.0.0",
		"workspace:some-pkg",
		"workspace:./packages/foo",
		"https://example.com/foo.tgz",
		"./foo-1.0.0.tgz",
		"link:../foo",
		"portal:../foo",
		"patch:lodash@npm%3A4.17.21#./my.patch",
	}
	for _, raw := range cases {
		r, err := Parse(raw)
		assert.NilError(t, err)
		assert.Equal(t, r.ToFileString(), raw)
	}
}

func TestMustBind(t *testing.T) {
	bound := []Kind{KindLink, KindPortal, KindPatch, KindFolder, KindTarball}
	for _, k := range bound {
		r := Range{Kind: k}
		assert.Assert(t, r.MustBind(), "kind %v should require binding", k)
	}

	unbound := []Kind{KindSemver, KindTag, KindWorkspaceMagic, KindURL, KindGit}
	for _, k := range unbound {
		r := Range{Kind: k}
		assert.Assert(t, !r.MustBind(), "kind %v should not require binding", k)
	}
}

func TestHumanStringElidesVirtualHash(t *testing.T) {
	inner, err := Parse("^1.0.0")
	assert.NilError(t, err)
	r := Range{Kind: KindVirtual, VirtualHash: "deadbeef00", VirtualInner: &inner}
	assert.Equal(t, r.ToHumanString(), "^1.0.0")
	assert.Assert(t, r.ToFileString() != r.ToHumanString())
}
