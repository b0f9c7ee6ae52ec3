package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewRebuildIndexCmd creates the rebuild-index command.
func NewRebuildIndexCmd() *cobra.Command {
	var bucket string

	cmd := &cobra.Command{
		Use:   "rebuild-index [dataset-id]",
		Short: "Regenerate the primary-key index from the event log",
		Long: `Rebuild-index replays every event file up to the current version and
rewrites index/keys.parquet. The pipeline does this automatically when the
consistency guard trips; the command exists for manual recovery.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuildIndex(args[0], bucket)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "catalog S3 bucket (or "+bucketEnv+")")
	return cmd
}

func runRebuildIndex(datasetID, bucketFlag string) error {
	bucket, err := resolveBucket(bucketFlag)
	if err != nil {
		return err
	}
	cat, err := newCatalog(bucket)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := cat.RebuildIndexFromPointer(ctx, datasetID); err != nil {
		return err
	}
	fmt.Printf("Rebuilt primary-key index for %s\n", datasetID)
	return nil
}
