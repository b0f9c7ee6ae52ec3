package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tidemark/internal/config"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var bucket string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run [config-file]",
		Short: "Run one dataset ingestion pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDataset(args[0], bucket, timeout)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "catalog S3 bucket (or "+bucketEnv+")")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "run timeout")
	return cmd
}

func runDataset(configPath, bucketFlag string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bucket, err := resolveBucket(bucketFlag)
	if err != nil {
		return err
	}
	driver, err := newDriver(bucket, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result := driver.Run(ctx, cfg)
	printRunResult(result)
	if result.Status == types.RunError {
		return fmt.Errorf("run %s failed: %w", result.RunID, result.Err)
	}
	return nil
}

func printRunResult(result types.RunResult) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Dataset: %s\n", result.DatasetID)
	fmt.Printf("  Run:     %s\n", result.RunID)
	fmt.Printf("  Version: %s\n", result.VersionTS)

	switch result.Status {
	case types.RunCompleted:
		color.Green("  Status:  completed (%d rows added)", result.RowsAdded)
	case types.RunNoChange, types.RunNoNewData:
		color.Yellow("  Status:  %s", result.Status)
	case types.RunSkippedLock, types.RunCASConflict:
		color.Yellow("  Status:  %s (another run is active)", result.Status)
	case types.RunError:
		color.Red("  Status:  error")
	}
}
