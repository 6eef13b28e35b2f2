package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "promptgate",
		Short:   "Promptgate — rate-limited orchestration gateway for CLI text generation",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newPromptCmd(),
		newStatsCmd(),
		newCacheCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
