package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/build"
	"github.com/quillpm/quill/internal/fetch"
	"github.com/quillpm/quill/internal/linker/pnp"
	"github.com/quillpm/quill/internal/lockfile"
	"github.com/quillpm/quill/internal/logger"
	"github.com/quillpm/quill/internal/process"
	"github.com/quillpm/quill/internal/project"
	"github.com/quillpm/quill/internal/resolver"
	"github.com/quillpm/quill/internal/settings"
)

func newInstallCmd(log *logger.Logger, manager *process.Manager, cwd *string) *cobra.Command {
	var (
		immutable   bool
		dryRun      bool
		linkerFlag  string
		skipBuild   bool
		buildScript string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve, fetch and link every workspace's dependencies",
		RunE: func(c *cobra.Command, args []string) error {
			s, catalog, err := loadEnv(*cwd)
			if err != nil {
				return fail(log, err)
			}

			opts, err := installOptions(s, catalog, immutable, dryRun, linkerFlag)
			if err != nil {
				return fail(log, err)
			}

			result, err := project.Install(c.Context(), catalog, opts)
			if err != nil {
				return fail(log, err)
			}

			if err := persistLockfile(catalog, result.Lockfile); err != nil {
				return fail(log, err)
			}

			log.Printf("${GREEN}success${RESET} installed %d packages", len(result.Graph.Resolutions))

			if !skipBuild && opts.Linker == project.LinkerHoist {
				if err := runWorkspaceBuilds(c.Context(), log, manager, catalog, buildScript); err != nil {
					return fail(log, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&immutable, "immutable", false, "abort instead of writing a lockfile/cache change")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve without fetching or linking")
	cmd.Flags().StringVar(&linkerFlag, "node-linker", "", "override the configured linker (node-modules or pnp)")
	cmd.Flags().BoolVar(&skipBuild, "skip-builds", false, "skip running workspace build scripts after linking")
	cmd.Flags().StringVar(&buildScript, "build-script", "build", "the script name run across workspaces after linking")
	return cmd
}

func installOptions(s *settings.Settings, catalog *project.Catalog, immutable, dryRun bool, linkerFlag string) (project.Options, error) {
	linker := project.LinkerHoist
	nodeLinker := s.NodeLinker
	if linkerFlag != "" {
		nodeLinker = linkerFlag
	}
	if nodeLinker == "pnp" {
		linker = project.LinkerPnP
	}

	cacheDir := s.CacheFolder
	if cacheDir == "" {
		cacheDir = catalog.RootDir.UntypedJoin(".quill", "cache")
	}

	preapproved := make([]resolver.PreapprovedVersion, 0, len(s.PreapprovedPatterns))
	for _, pat := range s.PreapprovedPatterns {
		id, version, ok := splitIdentVersion(pat)
		if ok {
			preapproved = append(preapproved, resolver.PreapprovedVersion{IdentPattern: id, VersionExact: version})
		}
	}

	return project.Options{
		Linker:      linker,
		Immutable:   immutable || s.EnableImmutableInstalls,
		DryRun:      dryRun,
		Concurrency: s.JobsLimit,
		AgeGate: resolver.AgeGate{
			MinAge:      time.Duration(s.MinimumReleaseAgeSeconds) * time.Second,
			Preapproved: preapproved,
		},
		Registry:   fetch.RegistryConfig{Base: s.NPMRegistryServer},
		CacheDir:   cacheDir,
		ScratchDir: cacheDir.UntypedJoin(".scratch"),
		PnP: pnp.Options{
			Fallback:         pnp.FallbackDependenciesOnly,
			VirtualFolder:    s.VirtualFolderName,
			UnpluggedDirName: "unplugged",
		},
	}, nil
}

func persistLockfile(catalog *project.Catalog, lf *lockfile.InstallLockfile) error {
	data, err := lf.Encode()
	if err != nil {
		return fmt.Errorf("cli: encoding lockfile: %w", err)
	}
	path := catalog.RootDir.UntypedJoin("quill.lock").ToString()
	return lockfile.WriteAtomic(path, data)
}

// runWorkspaceBuilds runs buildScript across every workspace that declares
// it, in workspace-dependency order, through internal/build's executor —
// the distinct "ordered, partial-failure-tolerant build step" component
// spec §4.I describes, as opposed to internal/foreach's arbitrary
// any-script-any-order runner. Scoped to the hoisting linker: PnP's
// unplugged-directory cwd mapping for arbitrary transitive dependencies
// isn't derived here (see DESIGN.md), and only workspace-declared build
// steps run — a registry dependency's own postinstall/node-gyp step would
// need its materialized package.json re-read, which this pass doesn't do.
func runWorkspaceBuilds(ctx context.Context, log *logger.Logger, manager *process.Manager, catalog *project.Catalog, script string) error {
	workspaces := catalog.Workspaces()
	keyByName := make(map[string]string, len(workspaces))
	for _, ws := range workspaces {
		keyByName[ws.Manifest.Name] = ws.Locator.ToFileString()
	}

	var requests []build.Request
	deps := build.DependencyGraph{}
	for _, ws := range workspaces {
		key := ws.Locator.ToFileString()
		var depKeys []string
		addDeps := func(names map[string]string) {
			for name := range names {
				if depKey, ok := keyByName[name]; ok {
					depKeys = append(depKeys, depKey)
				}
			}
		}
		addDeps(ws.Manifest.Dependencies)
		addDeps(ws.Manifest.DevDependencies)
		deps[key] = depKeys

		if command, ok := ws.Manifest.Scripts[script]; ok {
			requests = append(requests, build.Request{
				Cwd:      ws.Dir,
				Locator:  ws.Locator,
				Commands: []string{command},
			})
		}
	}
	if len(requests) == 0 {
		return nil
	}

	executor := build.NewExecutor(manager, hclog.NewNullLogger(), 4)
	summary, err := executor.Run(ctx, requests, deps)
	if err != nil {
		return err
	}
	for _, l := range summary.HardFailed {
		log.Printf("${RED}build failed${RESET} %s", l.ToHumanString())
	}
	if len(summary.HardFailed) > 0 {
		return fmt.Errorf("cli: %d workspace build(s) failed", len(summary.HardFailed))
	}
	return nil
}

func splitIdentVersion(pattern string) (ident string, version string, ok bool) {
	for i := len(pattern) - 1; i >= 0; i-- {
		if pattern[i] == '@' && i > 0 {
			return pattern[:i], pattern[i+1:], true
		}
	}
	return "", "", false
}
