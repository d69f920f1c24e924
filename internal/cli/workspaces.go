package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/foreach"
	"github.com/quillpm/quill/internal/logger"
	"github.com/quillpm/quill/internal/process"
)

func newWorkspacesCmd(log *logger.Logger, manager *process.Manager, cwd *string) *cobra.Command {
	ws := &cobra.Command{
		Use:   "workspaces",
		Short: "Operate across more than one workspace at once",
	}
	ws.AddCommand(newForeachCmd(log, manager, cwd))
	return ws
}

func newForeachCmd(log *logger.Logger, manager *process.Manager, cwd *string) *cobra.Command {
	var (
		all              bool
		from             []string
		since            string
		followDeps       bool
		followDependents bool
		exclude          []string
		topological      bool
		concurrency      int
	)

	cmd := &cobra.Command{
		Use:   "foreach <script> [-- args...]",
		Short: "Run a script across a selected set of workspaces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			_, catalog, err := loadEnv(*cwd)
			if err != nil {
				return fail(log, err)
			}

			selected, err := foreach.Select(catalog, foreach.SelectOptions{
				All:              all,
				From:             from,
				Since:            since,
				Cwd:              ".",
				FollowDeps:       followDeps,
				FollowDependents: followDependents,
				Exclude:          exclude,
				RequireScript:    args[0],
			})
			if err != nil {
				return fail(log, err)
			}
			if len(selected) == 0 {
				log.Printf("${YELLOW}warning${RESET} no workspace declares a %q script", args[0])
				return nil
			}

			results := foreach.Run(c.Context(), manager, selected, foreach.RunOptions{
				Script:      args[0],
				Args:        args[1:],
				Concurrency: concurrency,
				Topological: topological,
			})

			var failed int
			for _, r := range results {
				if r.Err != nil {
					failed++
					log.Printf("${RED}fail${RESET} %s: %v", r.Workspace.Path, r.Err)
				} else {
					log.Printf("${GREEN}done${RESET} %s", r.Workspace.Path)
				}
			}
			if failed > 0 {
				return fail(log, fmt.Errorf("cli: %d workspace(s) failed", failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "select every workspace")
	cmd.Flags().StringSliceVar(&from, "from", nil, "select workspaces matching these path globs")
	cmd.Flags().StringVar(&since, "since", "", "select workspaces changed since this git ref")
	cmd.Flags().BoolVarP(&followDeps, "include-dependencies", "d", false, "also select each selected workspace's dependencies")
	cmd.Flags().BoolVarP(&followDependents, "include-dependents", "D", false, "also select each selected workspace's dependents")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "drop workspaces matching these path globs")
	cmd.Flags().BoolVar(&topological, "topological", false, "run in workspace-dependency order instead of any order")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "maximum concurrent workspaces (0 = unbounded)")
	return cmd
}
