package project

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/turbopath"
)

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NilError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadSingleWorkspaceProject(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "package.json"), `{"name":"app","version":"1.0.0"}`)

	c, err := Load(turbopath.AbsoluteSystemPath(root))
	assert.NilError(t, err)
	assert.Equal(t, len(c.Workspaces()), 1)

	loc, m := c.Root()
	assert.Equal(t, loc.Ident.String(), "app")
	assert.Equal(t, m.Name, "app")
}

func TestLoadExpandsWorkspaceGlobs(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "package.json"), `{"name":"monorepo","workspaces":["packages/*"]}`)
	writeJSON(t, filepath.Join(root, "packages", "a", "package.json"), `{"name":"a","version":"1.0.0","dependencies":{"b":"workspace:*"}}`)
	writeJSON(t, filepath.Join(root, "packages", "b", "package.json"), `{"name":"b","version":"1.0.0"}`)

	c, err := Load(turbopath.AbsoluteSystemPath(root))
	assert.NilError(t, err)
	assert.Equal(t, len(c.Workspaces()), 3) // root + a + b

	aID, err := ident.Parse("a")
	assert.NilError(t, err)
	loc, m, ok := c.ByIdent(aID)
	assert.Assert(t, ok)
	assert.Equal(t, loc.Reference.WorkspacePath, "packages/a")
	assert.Equal(t, m.Dependencies["b"], "workspace:*")

	_, _, ok = c.ByPath("packages/b")
	assert.Assert(t, ok)
}

func TestLoadIgnoresNodeModulesUnderGlob(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "package.json"), `{"name":"monorepo","workspaces":["packages/*"]}`)
	writeJSON(t, filepath.Join(root, "packages", "a", "package.json"), `{"name":"a"}`)
	writeJSON(t, filepath.Join(root, "packages", "a", "node_modules", "dep", "package.json"), `{"name":"dep"}`)

	c, err := Load(turbopath.AbsoluteSystemPath(root))
	assert.NilError(t, err)
	assert.Equal(t, len(c.Workspaces()), 2) // root + a, dep under node_modules excluded
}

func TestLoadMissingWorkspaceNameErrors(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "package.json"), `{"name":"monorepo","workspaces":["packages/*"]}`)
	writeJSON(t, filepath.Join(root, "packages", "a", "package.json"), `{"version":"1.0.0"}`)

	_, err := Load(turbopath.AbsoluteSystemPath(root))
	assert.ErrorContains(t, err, "no \"name\"")
}

func TestParsePackageManagerField(t *testing.T) {
	cases := []struct {
		raw     string
		name    string
		version string
		wantErr bool
	}{
		{raw: "yarn@3.4.1", name: "yarn", version: "3.4.1"},
		{raw: "npm@9.0.0", name: "npm", version: "9.0.0"},
		{raw: "pnpm@8.1.0-beta.1", name: "pnpm", version: "8.1.0-beta.1"},
		{raw: "bun@1.0.0", wantErr: true},
		{raw: "yarn", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParsePackageManagerField(tc.raw)
		if tc.wantErr {
			assert.Assert(t, err != nil)
			continue
		}
		assert.NilError(t, err)
		assert.Equal(t, got.Name, tc.name)
		assert.Equal(t, got.Version, tc.version)
	}
}

func TestContextDirResolvesWorkspaceElseErrors(t *testing.T) {
	root := t.TempDir()
	writeJSON(t, filepath.Join(root, "package.json"), `{"name":"monorepo","workspaces":["packages/*"]}`)
	writeJSON(t, filepath.Join(root, "packages", "a", "package.json"), `{"name":"a"}`)

	c, err := Load(turbopath.AbsoluteSystemPath(root))
	assert.NilError(t, err)

	dir, err := c.ContextDir(nil)
	assert.NilError(t, err)
	assert.Equal(t, dir, c.RootDir)

	aLoc, _, ok := c.ByPath("packages/a")
	assert.Assert(t, ok)
	dir, err = c.ContextDir(&aLoc)
	assert.NilError(t, err)
	assert.Equal(t, dir, turbopath.AbsoluteSystemPath(root).UntypedJoin("packages", "a"))

	unknown := aLoc
	unknown.Reference.WorkspacePath = "does/not/exist"
	_, err = c.ContextDir(&unknown)
	assert.Assert(t, err != nil)
}
