package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// ReadProjection returns the consolidated projection of a series for a month,
// or nil when absent.
func (c *Catalog) ReadProjection(ctx context.Context, datasetID, seriesCode string, ym types.YearMonth) ([]types.Row, error) {
	rows, err := c.readRows(ctx, ProjectionKey(datasetID, seriesCode, ym.Year, ym.Month))
	if err != nil {
		return nil, fmt.Errorf("reading projection: %w", err)
	}
	return rows, nil
}

// WriteProjectionTemp stages a projection under its .tmp/ sibling (WAL).
func (c *Catalog) WriteProjectionTemp(ctx context.Context, datasetID, seriesCode string, ym types.YearMonth, rows []types.Row) error {
	key := ProjectionTempKey(datasetID, seriesCode, ym.Year, ym.Month)
	if err := c.writeRows(ctx, key, rows); err != nil {
		return fmt.Errorf("writing temp projection: %w", err)
	}
	return nil
}

// MoveProjectionFromTemp promotes the staged projection to its visible key:
// copy then delete. Readers only look at the non-.tmp key, so the copy is the
// commit point.
func (c *Catalog) MoveProjectionFromTemp(ctx context.Context, datasetID, seriesCode string, ym types.YearMonth) error {
	tempKey := ProjectionTempKey(datasetID, seriesCode, ym.Year, ym.Month)
	finalKey := ProjectionKey(datasetID, seriesCode, ym.Year, ym.Month)
	if err := c.store.Copy(ctx, tempKey, finalKey); err != nil {
		return fmt.Errorf("promoting projection: %w", err)
	}
	if err := c.store.Delete(ctx, tempKey); err != nil {
		c.logger.Warn("deleting temp projection failed", "key", tempKey, "error", err)
	}
	return nil
}

// CleanupTempProjections removes every staged projection of a month.
// Best effort; individual delete failures are ignored.
func (c *Catalog) CleanupTempProjections(ctx context.Context, datasetID string, ym types.YearMonth) error {
	keys, err := c.store.List(ctx, ProjectionsRoot(datasetID))
	if err != nil {
		return fmt.Errorf("listing projections: %w", err)
	}
	marker := fmt.Sprintf("year=%d/month=%02d/.tmp/", ym.Year, ym.Month)
	for _, key := range keys {
		if !strings.Contains(key, marker) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("deleting temp projection failed", "key", key, "error", err)
		}
	}
	return nil
}

// ReadConsolidationManifest returns the per-month status record, or nil.
func (c *Catalog) ReadConsolidationManifest(ctx context.Context, datasetID string, ym types.YearMonth) (*types.ConsolidationManifest, error) {
	var m types.ConsolidationManifest
	found, err := c.readJSON(ctx, ConsolidationManifestKey(datasetID, ym.Year, ym.Month), &m)
	if err != nil {
		return nil, fmt.Errorf("reading consolidation manifest: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}

// WriteConsolidationManifest records the month's consolidation status.
func (c *Catalog) WriteConsolidationManifest(ctx context.Context, datasetID string, ym types.YearMonth, status types.ConsolidationStatus) error {
	m := types.ConsolidationManifest{
		DatasetID: datasetID,
		Year:      ym.Year,
		Month:     ym.Month,
		Status:    status,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
	if err := c.writeJSON(ctx, ConsolidationManifestKey(datasetID, ym.Year, ym.Month), m); err != nil {
		return fmt.Errorf("writing consolidation manifest: %w", err)
	}
	return nil
}
