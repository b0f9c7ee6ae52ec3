package types

// RunResult is the structured outcome of a single pipeline run.
type RunResult struct {
	RunID     string    `json:"run_id"`
	DatasetID string    `json:"dataset_id"`
	VersionTS string    `json:"version_ts"`
	Status    RunStatus `json:"status"`
	RowsAdded int       `json:"rows_added"`

	// Err carries the unrecovered error when Status is RunError. It is kept
	// out of the JSON form; callers log it separately.
	Err error `json:"-"`
}
