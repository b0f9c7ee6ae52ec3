// Package consolidate merges a month's event files into per-series projection
// files. Consolidation is derived state: it can always be repeated from the
// event log, so failures never retract a published version.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dwsmith1983/tidemark/internal/catalog"
	"github.com/dwsmith1983/tidemark/internal/delta"
	"github.com/dwsmith1983/tidemark/internal/telemetry"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Consolidator rebuilds monthly projections from the event log.
type Consolidator struct {
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consolidator) { c.logger = l }
}

// New creates a Consolidator over the given catalog.
func New(cat *catalog.Catalog, opts ...Option) *Consolidator {
	c := &Consolidator{
		catalog: cat,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run consolidates every affected month. Months fail independently; the
// returned error joins the per-month failures so one bad month never blocks
// the rest.
func (c *Consolidator) Run(ctx context.Context, cfg types.DatasetConfig, affected []types.YearMonth) error {
	var errs []error
	for _, ym := range types.SortYearMonths(append([]types.YearMonth(nil), affected...)) {
		if err := c.ConsolidateMonth(ctx, cfg, ym, true); err != nil {
			c.logger.Error("consolidating month failed",
				"dataset", cfg.DatasetID, "month", ym.String(), "error", err)
			errs = append(errs, fmt.Errorf("month %s: %w", ym, err))
		}
	}
	return errors.Join(errs...)
}

// ConsolidateMonth rebuilds one month's projections. The affected flag marks
// months touched by the current publish; a month that is already completed and
// not affected is skipped.
//
// The write path is a two-phase move: every series projection is staged under
// its .tmp/ key first, then promoted. A crash mid-way leaves the month marked
// in_progress with intact prior projections, and the next run starts by
// clearing the staging area.
func (c *Consolidator) ConsolidateMonth(ctx context.Context, cfg types.DatasetConfig, ym types.YearMonth, affected bool) error {
	datasetID := cfg.DatasetID

	manifest, err := c.catalog.ReadConsolidationManifest(ctx, datasetID, ym)
	if err != nil {
		return err
	}
	if manifest != nil && manifest.Status == types.ConsolidationCompleted && !affected {
		c.logger.Debug("month already consolidated", "dataset", datasetID, "month", ym.String())
		return nil
	}

	if err := c.catalog.CleanupTempProjections(ctx, datasetID, ym); err != nil {
		return err
	}
	if err := c.catalog.WriteConsolidationManifest(ctx, datasetID, ym, types.ConsolidationInProgress); err != nil {
		return err
	}

	keys, err := c.catalog.ListEventsForMonth(ctx, datasetID, ym)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		c.logger.Info("no events to consolidate", "dataset", datasetID, "month", ym.String())
		return nil
	}

	series, err := c.buildProjections(ctx, cfg, keys)
	if err != nil {
		c.cleanupAfterFailure(ctx, datasetID, ym)
		return err
	}

	codes := make([]string, 0, len(series))
	for code := range series {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		if err := c.catalog.WriteProjectionTemp(ctx, datasetID, code, ym, series[code]); err != nil {
			c.cleanupAfterFailure(ctx, datasetID, ym)
			return err
		}
	}
	for _, code := range codes {
		if err := c.catalog.MoveProjectionFromTemp(ctx, datasetID, code, ym); err != nil {
			c.cleanupAfterFailure(ctx, datasetID, ym)
			return err
		}
	}

	if err := c.catalog.WriteConsolidationManifest(ctx, datasetID, ym, types.ConsolidationCompleted); err != nil {
		return err
	}
	if err := c.catalog.CleanupTempProjections(ctx, datasetID, ym); err != nil {
		c.logger.Warn("cleaning staging area failed", "dataset", datasetID, "month", ym.String(), "error", err)
	}

	telemetry.Count(ctx, telemetry.Consolidations, telemetry.Dataset(datasetID))
	c.logger.Info("consolidated month",
		"dataset", datasetID, "month", ym.String(), "series", len(codes), "events", len(keys))
	return nil
}

// buildProjections reads the month's event files in ascending version order,
// deduplicates on the primary key keeping the latest occurrence, and groups
// the result by series code. Within a series, rows keep the order of their
// key's first appearance, which makes reruns byte-identical.
func (c *Consolidator) buildProjections(ctx context.Context, cfg types.DatasetConfig, keys []string) (map[string][]types.Row, error) {
	primaryKeys := cfg.PrimaryKeys()

	var (
		order []string
		byKey = make(map[string]types.Row)
	)
	for _, key := range keys {
		rows, err := c.catalog.ReadEventRows(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			h, err := delta.KeyHash(row, primaryKeys)
			if err != nil {
				return nil, fmt.Errorf("hashing row from %s: %w", key, err)
			}
			if _, ok := byKey[h]; !ok {
				order = append(order, h)
			}
			byKey[h] = row
		}
	}

	series := make(map[string][]types.Row)
	for _, h := range order {
		row := byKey[h]
		series[row.InternalSeriesCode] = append(series[row.InternalSeriesCode], row)
	}
	return series, nil
}

// cleanupAfterFailure clears the staging area, leaving the month's manifest
// in_progress so the next run re-consolidates it.
func (c *Consolidator) cleanupAfterFailure(ctx context.Context, datasetID string, ym types.YearMonth) {
	if err := c.catalog.CleanupTempProjections(ctx, datasetID, ym); err != nil {
		c.logger.Warn("cleaning staging area failed", "dataset", datasetID, "month", ym.String(), "error", err)
	}
}
