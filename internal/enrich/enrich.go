// Package enrich appends the constant and run-scoped metadata columns to
// every delta row before it is written to storage.
package enrich

import (
	"time"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Enrich returns a copy of rows with dataset metadata, the run version, the
// vintage timestamp, and quality flags filled in. Values the normalizer
// already set (frequency, unit, series code, quality flag) are preserved.
func Enrich(rows []types.Row, cfg types.DatasetConfig, versionTS string, vintage time.Time) []types.Row {
	enriched := make([]types.Row, len(rows))
	for i, row := range rows {
		row.DatasetID = cfg.DatasetID
		row.Provider = cfg.Provider
		if row.Frequency == "" {
			row.Frequency = cfg.Frequency
		}
		if row.Unit == "" {
			row.Unit = cfg.Unit
		}
		row.SourceKind = sourceKind(cfg)
		if row.ObsDate.IsZero() && !row.ObsTime.IsZero() {
			t := row.ObsTime.UTC()
			row.ObsDate = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		if row.InternalSeriesCode == "" {
			row.InternalSeriesCode = cfg.DatasetID
		}
		row.Version = versionTS
		row.VintageDate = vintage
		if row.QualityFlag == "" {
			row.QualityFlag = types.QualityOK
		}
		enriched[i] = row
	}
	return enriched
}

// sourceKind classifies the dataset source: anything with a file format is
// FILE; otherwise the transport decides.
func sourceKind(cfg types.DatasetConfig) types.SourceKind {
	if cfg.Source.Format != "" {
		return types.SourceKindFile
	}
	if cfg.Source.Kind == "http" {
		return types.SourceKindAPI
	}
	return types.SourceKindFile
}
