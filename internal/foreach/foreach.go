// Package foreach implements spec §4.J's workspaces-foreach driver:
// selecting a subset of a project's workspaces through a stacked set of
// filters, then running a user-named script across the selection, either
// in any order or respecting the workspace dependency partial order.
//
// Grounded on teacher internal/scope (selection flag parsing + "add
// dependencies/dependents" semantics) and internal/scope/filter (the
// `--filter=<selector>` engine, reused here unmodified as the underlying
// matcher for --from/--since/single-workspace, which this package
// translates into TargetSelector values for the pyr-sh/dag-backed filter
// Resolver), plus internal/linker/hoist/scc.go's
// hand-rolled Tarjan SCC for --topological island grouping.
package foreach

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/pyr-sh/dag"

	"github.com/quillpm/quill/internal/fs"
	"github.com/quillpm/quill/internal/logstreamer"
	"github.com/quillpm/quill/internal/process"
	"github.com/quillpm/quill/internal/project"
	"github.com/quillpm/quill/internal/scm"
	"github.com/quillpm/quill/internal/scope/filter"
	"github.com/quillpm/quill/internal/turbopath"
	"github.com/quillpm/quill/internal/util"
	utilfilter "github.com/quillpm/quill/internal/util/filter"
)

// SelectOptions configures workspace selection, spec §4.J's filter stack:
// --all / --from=glob / --since=ref / a single active workspace, then
// "add followed dependencies/dependents", then "drop excluded globs", then
// optionally "keep only workspaces whose named script exists".
type SelectOptions struct {
	All              bool
	From             []string // path globs, relative to the project root
	Since            string   // git ref; workspaces changed since this ref
	Cwd              string   // project-root-relative path of the "active" workspace, used when neither All/From/Since is set
	FollowDeps       bool     // pkg... — include every selected workspace's dependencies
	FollowDependents bool     // ...pkg — include every selected workspace's dependents
	Exclude          []string // path globs to drop from the final selection
	RequireScript    string   // if non-empty, keep only workspaces declaring this script
}

// Select resolves opts against catalog, returning the chosen workspaces in
// path order (root first).
func Select(catalog *project.Catalog, opts SelectOptions) ([]project.Workspace, error) {
	all := catalog.Workspaces()

	g := workspaceGraph(all)
	resolver := &filter.Resolver{
		Graph:          g,
		WorkspaceInfos: workspaceInfos(all),
		Cwd:            catalog.RootDir.ToString(),
		PackagesChangedInRange: func(fromRef, toRef string) (util.Set, error) {
			return changedPackages(catalog, all, fromRef, toRef)
		},
	}

	selectors, err := buildSelectors(catalog, opts)
	if err != nil {
		return nil, err
	}

	selected, err := resolver.GetFilteredPackages(selectors)
	if err != nil {
		return nil, fmt.Errorf("foreach: select workspaces: %w", err)
	}

	byName := make(map[string]project.Workspace, len(all))
	for _, ws := range all {
		byName[workspaceName(ws)] = ws
	}

	var out []project.Workspace
	for name := range selected.Packages() {
		if ws, ok := byName[name.(string)]; ok {
			out = append(out, ws)
		}
	}

	if len(opts.Exclude) > 0 {
		excl, err := utilfilter.Compile(opts.Exclude)
		if err != nil {
			return nil, fmt.Errorf("foreach: compiling --exclude patterns: %w", err)
		}
		filtered := out[:0]
		for _, ws := range out {
			if excl == nil || !excl.Match(ws.Path) {
				filtered = append(filtered, ws)
			}
		}
		out = filtered
	}

	if opts.RequireScript != "" {
		filtered := out[:0]
		for _, ws := range out {
			if _, ok := ws.Manifest.Scripts[opts.RequireScript]; ok {
				filtered = append(filtered, ws)
			}
		}
		out = filtered
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func buildSelectors(catalog *project.Catalog, opts SelectOptions) ([]*filter.TargetSelector, error) {
	var patterns []string
	switch {
	case opts.All:
		patterns = append(patterns, "*")
	case opts.Since != "":
		pat := "[" + opts.Since + "]"
		patterns = append(patterns, wrapSelector(pat, opts))
	case len(opts.From) > 0:
		for _, g := range opts.From {
			patterns = append(patterns, wrapSelector(dirSelector(g), opts))
		}
	default:
		pat := opts.Cwd
		if pat == "" {
			pat = "."
		}
		patterns = append(patterns, wrapSelector(dirSelector(pat), opts))
	}

	selectors := make([]*filter.TargetSelector, 0, len(patterns))
	for _, p := range patterns {
		sel, err := filter.ParseTargetSelector(p, catalog.RootDir.ToString())
		if err != nil {
			return nil, fmt.Errorf("foreach: invalid selector %q: %w", p, err)
		}
		selectors = append(selectors, &sel)
	}
	return selectors, nil
}

// wrapSelector applies the pnpm-style "...pkg" (dependents) / "pkg..."
// (dependencies) suffix/prefix the underlying TargetSelector parser
// expects.
func wrapSelector(pat string, opts SelectOptions) string {
	if opts.FollowDependents {
		pat = "..." + pat
	}
	if opts.FollowDeps {
		pat = pat + "..."
	}
	return pat
}

// dirSelector rewrites a project-root-relative path into the dot-prefixed
// form filter.ParseTargetSelector recognizes as a directory selector
// (isSelectorByLocation), rather than a bare package-name pattern.
func dirSelector(path string) string {
	if path == "" || path == "." || strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return path
	}
	return "./" + path
}

func workspaceName(ws project.Workspace) string {
	if ws.Path == "." {
		return util.RootPkgName
	}
	return ws.Manifest.Name
}

// workspaceGraph builds the dependency DAG filter.Resolver walks for
// --include-dependencies / --include-dependents, an edge per
// workspace-to-workspace dependency of any kind (regular, dev, or
// optional; spec §4.J doesn't distinguish production-only dependencies the
// way build orchestration does).
func workspaceGraph(all []project.Workspace) *dag.AcyclicGraph {
	names := make(map[string]bool, len(all))
	for _, ws := range all {
		names[workspaceName(ws)] = true
	}
	var g dag.AcyclicGraph
	for _, ws := range all {
		name := workspaceName(ws)
		g.Add(name)
		addDeps := func(deps map[string]string) {
			for dep := range deps {
				if names[dep] {
					g.Add(dep)
					g.Connect(dag.BasicEdge(name, dep))
				}
			}
		}
		addDeps(ws.Manifest.Dependencies)
		addDeps(ws.Manifest.DevDependencies)
		addDeps(ws.Manifest.OptionalDependencies)
	}
	return &g
}

func workspaceInfos(all []project.Workspace) filter.WorkspaceInfos {
	infos := make(filter.WorkspaceInfos, len(all))
	for _, ws := range all {
		infos[workspaceName(ws)] = &fs.PackageJSON{
			Name: ws.Manifest.Name,
			Dir:  turbopath.AnchoredUnixPath(ws.Path).ToSystemPath(),
		}
	}
	return infos
}

func changedPackages(catalog *project.Catalog, all []project.Workspace, fromRef, toRef string) (util.Set, error) {
	s, serr := scm.FromInRepo(catalog.RootDir.ToString())
	if s == nil {
		return nil, fmt.Errorf("foreach: --since requires a git repository: %w", serr)
	}
	changed, err := s.ChangedFiles(fromRef, toRef, catalog.RootDir.ToString())
	if err != nil {
		return nil, fmt.Errorf("foreach: determining changed files: %w", err)
	}
	changedSet := util.SetFromStrings(changed)

	result := make(util.Set)
	for _, ws := range all {
		prefix := ws.Path
		for f := range changedSet {
			fp := f.(string)
			if prefix == "." || hasPrefix(fp, prefix) {
				result.Add(workspaceName(ws))
				break
			}
		}
	}
	return result, nil
}

func hasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// RunOptions configures spec §4.J's execution phase.
type RunOptions struct {
	Script      string
	Args        []string
	Concurrency int  // <=0 means unbounded
	Topological bool // group into SCCs ("islands"); islands run in dependency order, any order within an island
}

// Result reports how one workspace's script invocation settled.
type Result struct {
	Workspace project.Workspace
	Err       error
}

// Run executes opts.Script (with opts.Args appended) in every workspace,
// in dependency order if opts.Topological, else with no particular
// between-workspace ordering — both with bounded concurrency.
func Run(ctx context.Context, manager *process.Manager, workspaces []project.Workspace, opts RunOptions) []Result {
	if !opts.Topological {
		return runUnordered(ctx, manager, workspaces, opts)
	}
	return runTopological(ctx, manager, workspaces, opts)
}

func runUnordered(ctx context.Context, manager *process.Manager, workspaces []project.Workspace, opts RunOptions) []Result {
	sema := util.NewSemaphore(opts.Concurrency)
	results := make([]Result, len(workspaces))
	var wg sync.WaitGroup
	for i, ws := range workspaces {
		wg.Add(1)
		go func(i int, ws project.Workspace) {
			defer wg.Done()
			sema.Acquire()
			defer sema.Release()
			results[i] = Result{Workspace: ws, Err: runScript(ctx, manager, ws, opts)}
		}(i, ws)
	}
	wg.Wait()
	return results
}

// runTopological groups workspaces into strongly connected islands
// (workspace dependency cycles through devDependencies are tolerated
// elsewhere in this module too, e.g. spec §4.E's virtualizer) and runs
// islands in dependency order; workspaces within one island run
// concurrently, with no ordering guarantee between them, matching spec
// §4.J's "within an island any order is permitted".
func runTopological(ctx context.Context, manager *process.Manager, workspaces []project.Workspace, opts RunOptions) []Result {
	index := make(map[string]int, len(workspaces))
	for i, ws := range workspaces {
		index[workspaceName(ws)] = i
	}
	edges := make(map[int][]int, len(workspaces))
	for i, ws := range workspaces {
		addDeps := func(deps map[string]string) {
			for dep := range deps {
				if j, ok := index[dep]; ok {
					edges[i] = append(edges[i], j)
				}
			}
		}
		addDeps(ws.Manifest.Dependencies)
		addDeps(ws.Manifest.DevDependencies)
	}

	// islands come back in reverse-topological order (leaves first); a
	// workspace's script must run after its dependencies', so islands run
	// in the order returned.
	islands := stronglyConnectedComponents(len(workspaces), edges)

	sema := util.NewSemaphore(opts.Concurrency)
	results := make([]Result, len(workspaces))
	for _, island := range islands {
		var wg sync.WaitGroup
		for _, i := range island {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sema.Acquire()
				defer sema.Release()
				results[i] = Result{Workspace: workspaces[i], Err: runScript(ctx, manager, workspaces[i], opts)}
			}(i)
		}
		wg.Wait()
	}
	return results
}

func runScript(ctx context.Context, manager *process.Manager, ws project.Workspace, opts RunOptions) error {
	command, ok := ws.Manifest.Scripts[opts.Script]
	if !ok {
		return fmt.Errorf("foreach: workspace %s has no %q script", ws.Path, opts.Script)
	}
	for _, extra := range opts.Args {
		command += " " + shellQuote(extra)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = ws.Dir.ToString()

	streamer := logstreamer.NewLogstreamer(log.Default(), ws.Path+":"+opts.Script, false)
	cmd.Stdout = streamer
	cmd.Stderr = streamer

	if err := manager.Exec(cmd); err != nil {
		return fmt.Errorf("foreach: %s: %q: %w", ws.Path, opts.Script, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
