package scm

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutGit(t *testing.T) {
	dir := t.TempDir()
	require.Nil(t, New(dir))
}

func TestNewFallbackWithoutGit(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFallback(dir)
	require.ErrorIs(t, err, ErrFallback)
	changed, err := s.ChangedFiles("", "HEAD", dir)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestGitChangedFiles(t *testing.T) {
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")

	writeFile(t, dir, "a.txt", "one")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "first")

	writeFile(t, dir, "a.txt", "two")
	writeFile(t, dir, "b.txt", "new")

	s := New(dir)
	require.NotNil(t, s)

	changed, err := s.ChangedFiles("", "HEAD", dir)
	require.NoError(t, err)
	assert.Contains(t, changed, "a.txt")
	assert.Contains(t, changed, "b.txt")
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}
