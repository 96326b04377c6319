// Command docqa is the entry point for the document QA pipeline.
// It provides a CLI interface (via Cobra) and an optional HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/quintal-labs/docqa/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
