package cli

import (
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/logger"
	"github.com/quillpm/quill/internal/logstreamer"
	"github.com/quillpm/quill/internal/process"
)

func newRunCmd(log *logger.Logger, manager *process.Manager, cwd *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script> [-- args...]",
		Short: "Run a script declared by the workspace at --cwd (the project root by default)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dir, err := rootDir(*cwd)
			if err != nil {
				return fail(log, err)
			}
			_, catalog, err := loadEnv(*cwd)
			if err != nil {
				return fail(log, err)
			}

			path := "."
			if rel, err := dir.RelativeTo(catalog.RootDir); err == nil {
				if s := rel.ToString(); s != "" {
					path = s
				}
			}
			ws, ok := catalog.WorkspaceAt(path)
			if !ok {
				return fail(log, fmt.Errorf("cli: %s is not a workspace", path))
			}
			script, ok := ws.Manifest.Scripts[args[0]]
			if !ok {
				return fail(log, fmt.Errorf("cli: workspace %s has no %q script", ws.Path, args[0]))
			}
			for _, extra := range args[1:] {
				script += " " + shellQuote(extra)
			}

			runCmd := exec.CommandContext(c.Context(), "sh", "-c", script)
			runCmd.Dir = ws.Dir.ToString()
			streamer := logstreamer.NewLogstreamer(stdLog(), ws.Path+":"+args[0], false)
			runCmd.Stdout = streamer
			runCmd.Stderr = streamer

			if err := manager.Exec(runCmd); err != nil {
				return fail(log, fmt.Errorf("cli: %s: %w", args[0], err))
			}
			return nil
		},
	}
	return cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func stdLog() *log.Logger { return log.Default() }
