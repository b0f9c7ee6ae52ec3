package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwsmith1983/tidemark/internal/delta"
	"github.com/dwsmith1983/tidemark/internal/objectstore"
)

// DefaultConsistencyTolerance is the allowed absolute difference between the
// index cardinality and the current manifest's rows_total. It accommodates
// hash collisions and dedup differences across runs; nonzero drift is logged.
const DefaultConsistencyTolerance = 10

// ReadIndex returns the primary-key hashes, or nil when the index is absent.
func (c *Catalog) ReadIndex(ctx context.Context, datasetID string) ([]string, error) {
	body, _, err := c.store.Get(ctx, IndexKey(datasetID))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}
	hashes, err := objectstore.UnmarshalKeys(body)
	if err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return hashes, nil
}

// WriteIndex replaces the primary-key index.
func (c *Catalog) WriteIndex(ctx context.Context, datasetID string, hashes []string) error {
	body, err := objectstore.MarshalKeys(hashes)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if _, err := c.store.Put(ctx, IndexKey(datasetID), body, objectstore.ContentTypeParquet); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// VerifyIndexConsistency checks the pointer/index invariant: the index
// cardinality must match the current version's rows_total within tolerance.
// Returns the consistency verdict and the observed drift.
func (c *Catalog) VerifyIndexConsistency(ctx context.Context, datasetID string, tolerance int) (bool, int, error) {
	pointer, _, err := c.ReadPointer(ctx, datasetID)
	if err != nil {
		return false, 0, err
	}
	if pointer == nil {
		hashes, err := c.ReadIndex(ctx, datasetID)
		if err != nil {
			return false, 0, err
		}
		return len(hashes) == 0, len(hashes), nil
	}
	if pointer.CurrentVersion == "" {
		return false, 0, nil
	}

	manifest, err := c.ReadEventManifest(ctx, datasetID, pointer.CurrentVersion)
	if err != nil {
		return false, 0, err
	}
	if manifest == nil {
		return false, 0, nil
	}

	hashes, err := c.ReadIndex(ctx, datasetID)
	if err != nil {
		return false, 0, err
	}
	if hashes == nil {
		return false, 0, nil
	}

	drift := len(hashes) - manifest.Outputs.RowsTotal
	if drift < 0 {
		drift = -drift
	}
	return drift <= tolerance, drift, nil
}

// RebuildIndexFromPointer regenerates index/keys.parquet from the events of
// every version up to and including the pointer's current version. This is
// the only self-healing mechanism; it covers the window where the pointer CAS
// succeeded but the index write did not.
func (c *Catalog) RebuildIndexFromPointer(ctx context.Context, datasetID string) error {
	pointer, _, err := c.ReadPointer(ctx, datasetID)
	if err != nil {
		return err
	}
	if pointer == nil || pointer.CurrentVersion == "" {
		return nil
	}

	manifest, err := c.ReadEventManifest(ctx, datasetID, pointer.CurrentVersion)
	if err != nil {
		return err
	}
	if manifest == nil || len(manifest.Index.KeyColumns) == 0 {
		return nil
	}
	primaryKeys := manifest.Index.KeyColumns

	versions, err := c.ListVersions(ctx, datasetID)
	if err != nil {
		return err
	}

	var hashes []string
	seen := make(map[string]bool)
	for _, version := range versions {
		if version > pointer.CurrentVersion {
			break
		}
		files, err := c.ListEventFiles(ctx, datasetID, version)
		if err != nil {
			return err
		}
		for _, key := range files {
			rows, err := c.ReadEventRows(ctx, key)
			if err != nil {
				return err
			}
			for _, row := range rows {
				h, err := delta.KeyHash(row, primaryKeys)
				if err != nil {
					return fmt.Errorf("hashing row from %s: %w", key, err)
				}
				if !seen[h] {
					seen[h] = true
					hashes = append(hashes, h)
				}
			}
		}
	}

	// Write even when empty: a stale non-empty index must not survive a
	// rebuild whose events yield no keys.
	c.logger.Info("rebuilt primary-key index from events",
		"dataset", datasetID, "version", pointer.CurrentVersion, "keys", len(hashes))
	return c.WriteIndex(ctx, datasetID, hashes)
}

