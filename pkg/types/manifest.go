package types

// Pointer is the single mutable object of a dataset: the current version
// pointer at current/manifest.json. It only ever changes through a CAS put.
type Pointer struct {
	DatasetID      string `json:"dataset_id"`
	CurrentVersion string `json:"current_version"`
}

// SourceFile fingerprints the fetched source body of a version.
type SourceFile struct {
	Path   string `json:"path,omitempty"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// SourceInfo groups the source fingerprints of an event manifest.
type SourceInfo struct {
	Files []SourceFile `json:"files"`
}

// OutputsInfo describes the data written by a version.
type OutputsInfo struct {
	DataPrefix           string   `json:"data_prefix"`
	Files                []string `json:"files"`
	RowsTotal            int      `json:"rows_total"`
	RowsAddedThisVersion int      `json:"rows_added_this_version"`
}

// IndexInfo points at the primary-key index and names its key columns.
type IndexInfo struct {
	Path       string   `json:"path"`
	KeyColumns []string `json:"key_columns"`
	HashColumn string   `json:"hash_column"`
}

// EventManifest describes one immutable published version. It lives under the
// version's own prefix and is invisible until the pointer references it.
type EventManifest struct {
	DatasetID string      `json:"dataset_id"`
	Version   string      `json:"version"`
	CreatedAt string      `json:"created_at"`
	Source    SourceInfo  `json:"source"`
	Outputs   OutputsInfo `json:"outputs"`
	Index     IndexInfo   `json:"index"`
}

// EventIndex is the append-only per-month listing of versions that carry a
// partition for that month. A stale or missing index is tolerated; the
// consolidator falls back to listing.
type EventIndex struct {
	DatasetID   string   `json:"dataset_id"`
	Year        int      `json:"year"`
	Month       int      `json:"month"`
	Versions    []string `json:"versions"`
	LastUpdated string   `json:"last_updated"`
	EventCount  int      `json:"event_count"`
}

// ConsolidationManifest records per-month consolidation progress so a crashed
// run can be redone idempotently.
type ConsolidationManifest struct {
	DatasetID string              `json:"dataset_id"`
	Year      int                 `json:"year"`
	Month     int                 `json:"month"`
	Status    ConsolidationStatus `json:"status"`
	Timestamp string              `json:"timestamp"`
}

// NotificationEvent is the message published after a successful run.
type NotificationEvent struct {
	Type            string `json:"type"`
	Timestamp       string `json:"timestamp"`
	DatasetID       string `json:"dataset_id"`
	ManifestPointer string `json:"manifest_pointer"`
}

// NotificationType is the only event type tidemark emits today.
const NotificationType = "DATASET_UPDATED"
