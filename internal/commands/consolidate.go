package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tidemark/internal/config"
	"github.com/dwsmith1983/tidemark/internal/consolidate"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// NewConsolidateCmd creates the consolidate command.
func NewConsolidateCmd() *cobra.Command {
	var bucket string
	var months []string

	cmd := &cobra.Command{
		Use:   "consolidate [config-file]",
		Short: "Rebuild monthly projections from the event log",
		Long: `Consolidate merges the event files of the given months into per-series
projection files. Safe to re-run: consolidation is derived entirely from
the immutable event log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsolidate(args[0], bucket, months)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "catalog S3 bucket (or "+bucketEnv+")")
	cmd.Flags().StringSliceVar(&months, "month", nil, "month to consolidate, YYYY-MM (repeatable)")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func runConsolidate(configPath, bucketFlag string, months []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bucket, err := resolveBucket(bucketFlag)
	if err != nil {
		return err
	}
	cat, err := newCatalog(bucket)
	if err != nil {
		return err
	}

	yms := make([]types.YearMonth, 0, len(months))
	for _, m := range months {
		t, err := time.Parse("2006-01", m)
		if err != nil {
			return fmt.Errorf("invalid month %q (want YYYY-MM): %w", m, err)
		}
		yms = append(yms, types.YearMonthOf(t))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	cons := consolidate.New(cat)
	if err := cons.Run(ctx, cfg, yms); err != nil {
		return err
	}
	fmt.Printf("Consolidated %d month(s) for %s\n", len(yms), cfg.DatasetID)
	return nil
}
