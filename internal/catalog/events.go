package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// eventWriteParallelism caps concurrent partition puts per version.
const eventWriteParallelism = 4

// WriteEvents writes one immutable event per non-empty (year, month)
// partition of the enriched delta. On any failure every file written by this
// call is deleted (best effort) and the error propagates; no partial version
// is ever acknowledged. Returns the written keys and the affected months.
func (c *Catalog) WriteEvents(ctx context.Context, datasetID, versionTS string, rows []types.Row) ([]string, []types.YearMonth, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}

	prefix := EventsPrefix(datasetID, versionTS)

	groups := make(map[types.YearMonth][]types.Row)
	var dateless []types.Row
	for _, row := range rows {
		t, ok := row.PartitionTime()
		if !ok {
			dateless = append(dateless, row)
			continue
		}
		ym := types.YearMonthOf(t)
		groups[ym] = append(groups[ym], row)
	}

	// A dataset without any date column writes a single un-partitioned file
	// and touches no month index.
	if len(groups) == 0 {
		key := EventFileKey(prefix, "")
		if err := c.writeRows(ctx, key, dateless); err != nil {
			return nil, nil, fmt.Errorf("writing event file: %w", err)
		}
		return []string{key}, nil, nil
	}

	months := make([]types.YearMonth, 0, len(groups))
	for ym := range groups {
		months = append(months, ym)
	}
	types.SortYearMonths(months)

	// Partition writes may run in parallel; each acknowledged put is recorded
	// under the mutex before any error can propagate, so rollback always sees
	// the full set.
	var (
		mu      sync.Mutex
		written []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(eventWriteParallelism)
	for _, ym := range months {
		key := EventFileKey(prefix, PartitionPath(ym.Year, ym.Month))
		group := groups[ym]
		g.Go(func() error {
			if err := c.writeRows(gctx, key, group); err != nil {
				return fmt.Errorf("writing event partition %s: %w", key, err)
			}
			mu.Lock()
			written = append(written, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.rollbackEvents(ctx, written)
		return nil, nil, err
	}
	sort.Strings(written)

	for _, ym := range months {
		if err := c.updateEventIndex(ctx, datasetID, ym, versionTS); err != nil {
			c.rollbackEvents(ctx, written)
			return nil, nil, fmt.Errorf("updating event index for %s: %w", ym, err)
		}
	}

	return written, months, nil
}

// rollbackEvents deletes every key written by a failed WriteEvents call.
// Individual delete failures are logged and ignored.
func (c *Catalog) rollbackEvents(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("rollback delete failed", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		c.logger.Info("rolled back event files", "count", len(keys))
	}
}

// ReadEventRows reads one event partition file.
func (c *Catalog) ReadEventRows(ctx context.Context, key string) ([]types.Row, error) {
	rows, err := c.readRows(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading event %s: %w", key, err)
	}
	return rows, nil
}

// ReadEventIndex returns the per-month version listing, or nil when absent.
func (c *Catalog) ReadEventIndex(ctx context.Context, datasetID string, ym types.YearMonth) (*types.EventIndex, error) {
	var idx types.EventIndex
	found, err := c.readJSON(ctx, EventIndexKey(datasetID, ym.Year, ym.Month), &idx)
	if err != nil {
		return nil, fmt.Errorf("reading event index: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &idx, nil
}

// WriteEventIndex replaces the per-month version listing.
func (c *Catalog) WriteEventIndex(ctx context.Context, datasetID string, ym types.YearMonth, versions []string) error {
	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)
	idx := types.EventIndex{
		DatasetID:   datasetID,
		Year:        ym.Year,
		Month:       ym.Month,
		Versions:    sorted,
		LastUpdated: c.now().UTC().Format(time.RFC3339),
		EventCount:  len(sorted),
	}
	if err := c.writeJSON(ctx, EventIndexKey(datasetID, ym.Year, ym.Month), idx); err != nil {
		return fmt.Errorf("writing event index: %w", err)
	}
	return nil
}

// updateEventIndex appends versionTS to the month's listing if absent.
func (c *Catalog) updateEventIndex(ctx context.Context, datasetID string, ym types.YearMonth, versionTS string) error {
	idx, err := c.ReadEventIndex(ctx, datasetID, ym)
	if err != nil {
		return err
	}
	var versions []string
	if idx != nil {
		versions = idx.Versions
	}
	for _, v := range versions {
		if v == versionTS {
			return nil
		}
	}
	return c.WriteEventIndex(ctx, datasetID, ym, append(versions, versionTS))
}

// ListEventsForMonth returns the sorted event partition keys of a month.
// The per-month index is the fast path; when it is missing the method falls
// back to listing every event object and rebuilds the index for next time.
func (c *Catalog) ListEventsForMonth(ctx context.Context, datasetID string, ym types.YearMonth) ([]string, error) {
	idx, err := c.ReadEventIndex(ctx, datasetID, ym)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		keys := make([]string, 0, len(idx.Versions))
		for _, version := range idx.Versions {
			keys = append(keys, EventFileKey(EventsPrefix(datasetID, version), PartitionPath(ym.Year, ym.Month)))
		}
		sort.Strings(keys)
		return keys, nil
	}

	allKeys, err := c.store.List(ctx, EventsRoot(datasetID))
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	suffix := PartitionPath(ym.Year, ym.Month) + "part-0.parquet"
	var matching []string
	for _, key := range allKeys {
		if strings.HasSuffix(key, suffix) {
			matching = append(matching, key)
		}
	}

	if len(matching) > 0 {
		var versions []string
		for _, key := range matching {
			if v := versionFromEventKey(key); v != "" {
				versions = append(versions, v)
			}
		}
		if len(versions) > 0 {
			if err := c.WriteEventIndex(ctx, datasetID, ym, versions); err != nil {
				c.logger.Warn("rebuilding event index failed", "month", ym, "error", err)
			}
		}
	}

	sort.Strings(matching)
	return matching, nil
}

// ListVersions returns every version timestamp present under the dataset's
// events prefix, sorted ascending (which is temporal order for this key
// format).
func (c *Catalog) ListVersions(ctx context.Context, datasetID string) ([]string, error) {
	allKeys, err := c.store.List(ctx, EventsRoot(datasetID))
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	seen := make(map[string]bool)
	var versions []string
	for _, key := range allKeys {
		v := versionFromEventKey(key)
		if v == "" || v == "index" || seen[v] {
			continue
		}
		seen[v] = true
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

// ListEventFiles returns the data files of one version, sorted.
func (c *Catalog) ListEventFiles(ctx context.Context, datasetID, versionTS string) ([]string, error) {
	keys, err := c.store.List(ctx, EventsPrefix(datasetID, versionTS))
	if err != nil {
		return nil, fmt.Errorf("listing event files: %w", err)
	}
	var files []string
	for _, key := range keys {
		if strings.HasSuffix(key, ".parquet") {
			files = append(files, key)
		}
	}
	sort.Strings(files)
	return files, nil
}
