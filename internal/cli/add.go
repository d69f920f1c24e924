package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/docedit"
	"github.com/quillpm/quill/internal/logger"
)

func newAddCmd(log *logger.Logger, cwd *string) *cobra.Command {
	var (
		dev      bool
		optional bool
		peer     bool
	)

	cmd := &cobra.Command{
		Use:   "add <pkg[@range]> [pkg[@range]...]",
		Short: "Add dependencies to the root manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dir, err := rootDir(*cwd)
			if err != nil {
				return fail(log, err)
			}
			field := dependencyField(dev, optional, peer)

			manifestPath := dir.UntypedJoin("package.json")
			data, err := manifestPath.ReadFile()
			if err != nil {
				return fail(log, fmt.Errorf("cli: reading package.json: %w", err))
			}
			doc, err := docedit.NewJSONDocument(data)
			if err != nil {
				return fail(log, fmt.Errorf("cli: parsing package.json: %w", err))
			}

			for _, arg := range args {
				name, rng := splitPkgArg(arg)
				path := docedit.ParsePath(field + "." + name)
				if err := doc.Set(path, docedit.Str(rng)); err != nil {
					return fail(log, fmt.Errorf("cli: adding %s: %w", name, err))
				}
				log.Printf("${GREEN}+${RESET} %s@%s", name, rng)
			}

			if err := os.WriteFile(manifestPath.ToString(), doc.Bytes(), 0o644); err != nil {
				return fail(log, fmt.Errorf("cli: writing package.json: %w", err))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dev, "dev", "D", false, "add to devDependencies")
	cmd.Flags().BoolVar(&optional, "optional", false, "add to optionalDependencies")
	cmd.Flags().BoolVar(&peer, "peer", false, "add to peerDependencies")
	return cmd
}

func dependencyField(dev, optional, peer bool) string {
	switch {
	case dev:
		return "devDependencies"
	case optional:
		return "optionalDependencies"
	case peer:
		return "peerDependencies"
	default:
		return "dependencies"
	}
}

// splitPkgArg splits "pkg@range" into its name and range, defaulting the
// range to "^<latest>"-style callers don't get for free here — this editor
// operates on an explicit range, so a bare package name is pinned to "*".
// A scoped name ("@scope/pkg@range") is handled by splitting on the last
// "@", never the first.
func splitPkgArg(arg string) (name, rng string) {
	idx := strings.LastIndex(arg, "@")
	if idx <= 0 {
		return arg, "*"
	}
	return arg[:idx], arg[idx+1:]
}
