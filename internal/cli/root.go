// Package cli holds the root cobra command for quill.
//
// Grounded on the teacher's internal/cmd/root.go: RunWithArgs spawns the
// cobra tree on a goroutine and races it against a signals.Watcher exactly
// the way the teacher does, so Ctrl-C during a long install still runs
// cleanup handlers before the process exits. Unlike the teacher this
// package talks to internal/logger and internal/settings directly instead
// of going through a mitchellh/cli-backed cmdutil.Helper, since this
// module never wires that dependency.
package cli

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/logger"
	"github.com/quillpm/quill/internal/process"
	"github.com/quillpm/quill/internal/signals"
	"github.com/quillpm/quill/internal/util"
)

// quillVersion is stamped at build time in a real release; fixed here
// since this module has no release pipeline of its own.
const quillVersion = "0.0.0-dev"

const defaultCmd = "install"

// RunWithArgs runs quill with the specified arguments, not including the
// binary name itself, and returns the process exit code.
func RunWithArgs(args []string) int {
	util.InitPrintf()
	log := logger.New()
	signalWatcher := signals.NewWatcher()
	manager := process.NewManager(hclog.NewNullLogger())
	signalWatcher.AddOnClose(manager.Close)

	root := newRootCmd(log, manager)
	root.SetArgs(resolveArgs(root, args))

	doneCh := make(chan struct{})
	var execErr error
	go func() {
		execErr = root.Execute()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		signalWatcher.Close()
		exitErr := &process.ChildExit{}
		if errors.As(execErr, &exitErr) {
			return exitErr.ExitCode
		} else if execErr != nil {
			return 1
		}
		return 0
	case <-signalWatcher.Done():
		return 1
	}
}

// resolveArgs prepends the default "install" command when none of the
// supplied args resolve to a named subcommand, matching the teacher's
// resolveArgs default-command convenience.
func resolveArgs(root *cobra.Command, args []string) []string {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "--version" || arg == "completion" {
			return args
		}
	}
	cmd, _, err := root.Traverse(args)
	if err != nil {
		return args
	} else if cmd.Name() == root.Name() {
		return append([]string{defaultCmd}, args...)
	}
	return args
}

func newRootCmd(log *logger.Logger, manager *process.Manager) *cobra.Command {
	var cwd string

	root := &cobra.Command{
		Use:              "quill",
		Short:            "A fast, reliable JavaScript package manager",
		Version:          quillVersion,
		TraverseChildren: true,
		SilenceUsage:     true,
		SilenceErrors:    true,
	}
	root.PersistentFlags().StringVar(&cwd, "cwd", "", "run as if quill was started in this directory")

	root.AddCommand(newInstallCmd(log, manager, &cwd))
	root.AddCommand(newAddCmd(log, &cwd))
	root.AddCommand(newRemoveCmd(log, &cwd))
	root.AddCommand(newWorkspacesCmd(log, manager, &cwd))
	root.AddCommand(newRunCmd(log, manager, &cwd))
	root.AddCommand(newConfigCmd(log, &cwd))

	return root
}

// fail prints err through the logger's error styling and returns a
// util.ExitCodeError cobra's RunE can propagate as the process exit code,
// matching the teacher's convention of exit 1 on a handled error.
func fail(log *logger.Logger, err error) error {
	fmt.Fprintln(os.Stderr, log.Errorf("%v", err))
	return &util.ExitCodeError{ExitCode: 1}
}
