package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quillpm/quill/internal/project"
	"github.com/quillpm/quill/internal/settings"
	"github.com/quillpm/quill/internal/turbopath"
)

// rootDir resolves the project directory a command runs against: the
// --cwd flag if set (relative to the process's actual working directory),
// else the working directory itself.
func rootDir(cwd string) (turbopath.AbsoluteSystemPath, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cli: getting working directory: %w", err)
	}
	if cwd == "" {
		return turbopath.AbsoluteSystemPathFromUpstream(wd), nil
	}
	if filepath.IsAbs(cwd) {
		return turbopath.AbsoluteSystemPathFromUpstream(cwd), nil
	}
	return turbopath.AbsoluteSystemPathFromUpstream(filepath.Join(wd, cwd)), nil
}

// loadEnv loads the settings and workspace catalog a command needs, the
// two pieces of state nearly every subcommand starts from.
func loadEnv(cwd string) (*settings.Settings, *project.Catalog, error) {
	dir, err := rootDir(cwd)
	if err != nil {
		return nil, nil, err
	}
	s, err := settings.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: loading settings: %w", err)
	}
	catalog, err := project.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: loading project: %w", err)
	}
	return s, catalog, nil
}
