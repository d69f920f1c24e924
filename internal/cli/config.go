package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillpm/quill/internal/docedit"
	"github.com/quillpm/quill/internal/logger"
	"github.com/quillpm/quill/internal/settings"
)

// newConfigCmd edits the project's .yarnrc.yml in place via
// internal/docedit's byte-span YAML editor, preserving every untouched key,
// comment, and the surrounding document's own indent style.
func newConfigCmd(log *logger.Logger, cwd *string) *cobra.Command {
	config := &cobra.Command{
		Use:   "config",
		Short: "Read or edit the project's rc file",
	}
	config.AddCommand(newConfigSetCmd(log, cwd))
	config.AddCommand(newConfigUnsetCmd(log, cwd))
	return config
}

func newConfigSetCmd(log *logger.Logger, cwd *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key in the project's rc file",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			doc, path, err := openRC(*cwd)
			if err != nil {
				return fail(log, err)
			}
			if err := doc.Set(docedit.ParsePath(key), docedit.Str(value)); err != nil {
				return fail(log, fmt.Errorf("cli: setting %s: %w", key, err))
			}
			if err := os.WriteFile(path, doc.Bytes(), 0o644); err != nil {
				return fail(log, fmt.Errorf("cli: writing %s: %w", settings.RCFilename(), err))
			}
			log.Printf("${GREEN}✓${RESET} %s = %s", key, value)
			return nil
		},
	}
}

func newConfigUnsetCmd(log *logger.Logger, cwd *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a key from the project's rc file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			key := args[0]
			doc, path, err := openRC(*cwd)
			if err != nil {
				return fail(log, err)
			}
			if err := doc.Remove(docedit.ParsePath(key)); err != nil {
				return fail(log, fmt.Errorf("cli: removing %s: %w", key, err))
			}
			if err := os.WriteFile(path, doc.Bytes(), 0o644); err != nil {
				return fail(log, fmt.Errorf("cli: writing %s: %w", settings.RCFilename(), err))
			}
			log.Printf("${GREEN}✓${RESET} removed %s", key)
			return nil
		},
	}
}

func openRC(cwd string) (*docedit.YAMLDocument, string, error) {
	dir, err := rootDir(cwd)
	if err != nil {
		return nil, "", err
	}
	rcPath := dir.UntypedJoin(settings.RCFilename())

	var data []byte
	if rcPath.FileExists() {
		data, err = rcPath.ReadFile()
		if err != nil {
			return nil, "", fmt.Errorf("cli: reading %s: %w", settings.RCFilename(), err)
		}
	}
	doc, err := docedit.NewYAMLDocument(data)
	if err != nil {
		return nil, "", fmt.Errorf("cli: parsing %s: %w", settings.RCFilename(), err)
	}
	return doc, rcPath.ToString(), nil
}
