package pnp

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
	"github.com/quillpm/quill/internal/turbopath"
)

func TestMakeVirtualPathOneLevelUp(t *testing.T) {
	base := turbopath.AbsoluteSystemPath("/project/__virtual__")
	target := turbopath.AbsoluteSystemPath("/project/node_modules/foo")

	got := makeVirtualPath(base, "abc123", target)
	want := turbopath.AbsoluteSystemPath("/project/__virtual__/hash-abc123/0/node_modules/foo")
	assert.Equal(t, got, want)
}

func TestMakeVirtualPathTwoLevelsUp(t *testing.T) {
	base := turbopath.AbsoluteSystemPath("/a/x/y")
	target := turbopath.AbsoluteSystemPath("/a/b/c")

	got := makeVirtualPath(base, "deadbeef", target)
	want := turbopath.AbsoluteSystemPath("/a/x/y/hash-deadbeef/1/b/c")
	assert.Equal(t, got, want)
}

func TestMakeVirtualPathTargetUnderneathBase(t *testing.T) {
	base := turbopath.AbsoluteSystemPath("/project/__virtual__")
	target := turbopath.AbsoluteSystemPath("/project/__virtual__/pkg")

	got := makeVirtualPath(base, "cafef00d", target)
	want := turbopath.AbsoluteSystemPath("/project/__virtual__/hash-cafef00d/0/pkg")
	assert.Equal(t, got, want)
}

func TestYarnBerryHashIsStableAndTenChars(t *testing.T) {
	id, err := ident.Parse("@babel/core")
	assert.NilError(t, err)
	l := locator.New(id, locator.Reference{Kind: locator.KindRegistry, Version: "7.0.0"})

	h1, err := yarnBerryHash(l)
	assert.NilError(t, err)
	assert.Equal(t, len(h1), 10)

	h2, err := yarnBerryHash(l)
	assert.NilError(t, err)
	assert.Equal(t, h1, h2)

	other := locator.New(id, locator.Reference{Kind: locator.KindRegistry, Version: "7.0.1"})
	h3, err := yarnBerryHash(other)
	assert.NilError(t, err)
	assert.Assert(t, h1 != h3)
}

func TestRelativeLocationFormatsPosixStyleWithTrailingSlash(t *testing.T) {
	root := turbopath.AbsoluteSystemPath("/project")
	loc := turbopath.AbsoluteSystemPath("/project/packages/foo")

	rel, err := relativeLocation(root, loc)
	assert.NilError(t, err)
	assert.Equal(t, rel, "./packages/foo/")
}

func TestRelativeLocationAtRoot(t *testing.T) {
	root := turbopath.AbsoluteSystemPath("/project")
	rel, err := relativeLocation(root, root)
	assert.NilError(t, err)
	assert.Equal(t, rel, "./")
}

func TestPackageLocationWorkspaceIsSoft(t *testing.T) {
	root := turbopath.AbsoluteSystemPath("/project")
	virtualFolder := root.UntypedJoin("__virtual__")
	id, err := ident.Parse("app")
	assert.NilError(t, err)
	l := locator.New(id, locator.Reference{Kind: locator.KindWorkspaceIdent, WorkspacePath: "packages/app"})

	loc, linkType, discard, mustExtract := packageLocation(l, root, virtualFolder, Options{})
	assert.Equal(t, linkType, "SOFT")
	assert.Assert(t, !discard)
	assert.Assert(t, !mustExtract)
	assert.Equal(t, loc, root.UntypedJoin("packages/app"))
}

func TestPackageLocationVirtualWrapsPhysical(t *testing.T) {
	root := turbopath.AbsoluteSystemPath("/project")
	virtualFolder := root.UntypedJoin("__virtual__")
	id, err := ident.Parse("react-dom")
	assert.NilError(t, err)

	phys := locator.Reference{Kind: locator.KindFolder, Path: "/project/.quill/cache/react-dom"}
	virtRef := locator.Reference{Kind: locator.KindVirtual, VirtualHash: "0123456789abcdef", VirtualInner: &phys}
	l := locator.New(id, virtRef)

	loc, linkType, _, mustExtract := packageLocation(l, root, virtualFolder, Options{})
	assert.Equal(t, linkType, "SOFT")
	assert.Assert(t, !mustExtract)
	assert.Assert(t, loc != turbopath.AbsoluteSystemPathFromUpstream(phys.Path), "a virtual locator's location must be the synthesized virtual path, not the physical one")
}
