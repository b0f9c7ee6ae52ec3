package plugin

import (
	"fmt"
	"sort"
	"time"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// GenericNormalizer is the default normalizer. It converts observation
// timestamps into the dataset's timezone before storing them in UTC, drops
// rows with no observation date at all, and orders rows by observation time
// so event files are deterministic for a given input.
type GenericNormalizer struct{}

// ID returns the plugin tag.
func (n *GenericNormalizer) ID() string { return "generic" }

// Normalize shapes parsed rows into the canonical schema.
func (n *GenericNormalizer) Normalize(rows []types.Row, cfg types.DatasetConfig) ([]types.Row, error) {
	loc := time.UTC
	if tz := cfg.Normalize.Timezone; tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
		}
	}

	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		if row.ObsTime.IsZero() && row.ObsDate.IsZero() {
			continue
		}
		if !row.ObsTime.IsZero() {
			// Naive timestamps from the source are interpreted in the
			// dataset's timezone; aware ones are just converted.
			if row.ObsTime.Location() == time.UTC && cfg.Normalize.Timezone != "" {
				row.ObsTime = time.Date(
					row.ObsTime.Year(), row.ObsTime.Month(), row.ObsTime.Day(),
					row.ObsTime.Hour(), row.ObsTime.Minute(), row.ObsTime.Second(),
					row.ObsTime.Nanosecond(), loc,
				)
			}
			row.ObsTime = row.ObsTime.UTC()
		}
		if !row.ObsDate.IsZero() {
			d := row.ObsDate
			row.ObsDate = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := out[i].PartitionTime()
		tj, _ := out[j].PartitionTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].InternalSeriesCode < out[j].InternalSeriesCode
	})
	return out, nil
}
