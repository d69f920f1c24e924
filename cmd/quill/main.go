// Command quill is the package manager's CLI entrypoint.
package main

import (
	"os"

	"github.com/quillpm/quill/internal/cli"
)

func main() {
	os.Exit(cli.RunWithArgs(os.Args[1:]))
}
