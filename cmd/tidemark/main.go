package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tidemark/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "tidemark",
		Short: "Incremental, event-sourced dataset ingestion on S3",
		Long: `Tidemark ingests external datasets into an S3 catalog incrementally.
Each run publishes only never-before-seen rows as an immutable event version,
advances the current pointer by compare-and-swap, and consolidates monthly
per-series projections from the event log.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewConsolidateCmd(),
		commands.NewRebuildIndexCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
