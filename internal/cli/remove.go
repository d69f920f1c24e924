package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/docedit"
	"github.com/quillpm/quill/internal/logger"
)

var dependencyFields = []string{"dependencies", "devDependencies", "optionalDependencies", "peerDependencies"}

func newRemoveCmd(log *logger.Logger, cwd *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <pkg> [pkg...]",
		Short: "Remove dependencies from the root manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dir, err := rootDir(*cwd)
			if err != nil {
				return fail(log, err)
			}

			manifestPath := dir.UntypedJoin("package.json")
			data, err := manifestPath.ReadFile()
			if err != nil {
				return fail(log, fmt.Errorf("cli: reading package.json: %w", err))
			}
			doc, err := docedit.NewJSONDocument(data)
			if err != nil {
				return fail(log, fmt.Errorf("cli: parsing package.json: %w", err))
			}

			for _, name := range args {
				removed := false
				for _, field := range dependencyFields {
					path := docedit.ParsePath(field + "." + name)
					if doc.Has(path) {
						if err := doc.Remove(path); err != nil {
							return fail(log, fmt.Errorf("cli: removing %s: %w", name, err))
						}
						removed = true
					}
				}
				if removed {
					log.Printf("${RED}-${RESET} %s", name)
				} else {
					log.Printf("${YELLOW}warning${RESET} %s is not a declared dependency", name)
				}
			}

			if err := os.WriteFile(manifestPath.ToString(), doc.Bytes(), 0o644); err != nil {
				return fail(log, fmt.Errorf("cli: writing package.json: %w", err))
			}
			return nil
		},
	}
	return cmd
}
