// Package catalog implements the S3 key layout and the manifest, index,
// event, and projection stores of a dataset.
package catalog

import (
	"fmt"
	"strings"
	"time"
)

// VersionTimestamp renders a run's version identifier: UTC, second
// resolution, colons replaced so the key sorts lexicographically in time
// order.
func VersionTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15-04-05")
}

// LockKey returns the pipeline lock key for a dataset.
func LockKey(datasetID string) string {
	return "pipeline:" + datasetID
}

// ConfigKey returns the informational config key.
func ConfigKey(datasetID string) string {
	return fmt.Sprintf("datasets/%s/configs/config.yaml", datasetID)
}

// IndexKey returns the primary-key index key.
func IndexKey(datasetID string) string {
	return fmt.Sprintf("datasets/%s/index/keys.parquet", datasetID)
}

// PointerKey returns the current manifest pointer key.
func PointerKey(datasetID string) string {
	return fmt.Sprintf("datasets/%s/current/manifest.json", datasetID)
}

// EventsRoot returns the prefix holding every version of a dataset.
func EventsRoot(datasetID string) string {
	return fmt.Sprintf("datasets/%s/events/", datasetID)
}

// EventsPrefix returns the data prefix of one version.
func EventsPrefix(datasetID, versionTS string) string {
	return fmt.Sprintf("datasets/%s/events/%s/data/", datasetID, versionTS)
}

// EventManifestKey returns the manifest key of one version.
func EventManifestKey(datasetID, versionTS string) string {
	return fmt.Sprintf("datasets/%s/events/%s/manifest.json", datasetID, versionTS)
}

// EventManifestPointer returns the bucket-relative manifest path used in
// notification payloads (without the datasets/ prefix).
func EventManifestPointer(datasetID, versionTS string) string {
	return fmt.Sprintf("%s/events/%s/manifest.json", datasetID, versionTS)
}

// EventIndexKey returns the per-month event index key.
func EventIndexKey(datasetID string, year, month int) string {
	return fmt.Sprintf("datasets/%s/events/index/%d/%02d/versions.json", datasetID, year, month)
}

// PartitionPath returns the hive-style partition path segment.
func PartitionPath(year, month int) string {
	return fmt.Sprintf("year=%d/month=%02d/", year, month)
}

// EventFileKey returns the data file key under a version prefix. An empty
// partition path yields the single un-partitioned file of a dateless dataset.
func EventFileKey(prefix, partitionPath string) string {
	return prefix + partitionPath + "part-0.parquet"
}

// ProjectionsRoot returns the prefix holding every projection window.
func ProjectionsRoot(datasetID string) string {
	return fmt.Sprintf("datasets/%s/projections/windows/", datasetID)
}

// ProjectionKey returns the consolidated per-series projection key.
func ProjectionKey(datasetID, seriesCode string, year, month int) string {
	return fmt.Sprintf("datasets/%s/projections/windows/%s/year=%d/month=%02d/data.parquet",
		datasetID, seriesCode, year, month)
}

// ProjectionTempKey returns the WAL sibling of a projection key.
func ProjectionTempKey(datasetID, seriesCode string, year, month int) string {
	return fmt.Sprintf("datasets/%s/projections/windows/%s/year=%d/month=%02d/.tmp/data.parquet",
		datasetID, seriesCode, year, month)
}

// ConsolidationManifestKey returns the per-month consolidation manifest key.
func ConsolidationManifestKey(datasetID string, year, month int) string {
	return fmt.Sprintf("datasets/%s/projections/consolidation/%d/%02d/manifest.json", datasetID, year, month)
}

// RawKey returns the archive key for the fetched source body of a run.
func RawKey(datasetID, runID, filename string) string {
	return fmt.Sprintf("datasets/%s/runs/%s/raw/%s", datasetID, runID, filename)
}

// versionFromEventKey extracts the version timestamp from an event data key,
// or "" when the key does not follow the events layout.
func versionFromEventKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		if part == "events" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
