package lambda

import "github.com/dwsmith1983/tidemark/pkg/types"

// IngestRequest invokes one pipeline run. Either the inline config or the
// S3 key of a config object must be set; inline wins when both are.
type IngestRequest struct {
	Config    *types.DatasetConfig `json:"config,omitempty"`
	ConfigKey string               `json:"config_key,omitempty"`
}

// IngestResponse reports the run outcome. Pipeline-level failures come back
// in Error with a nil handler error so the invocation itself succeeds and
// the caller can inspect the status.
type IngestResponse struct {
	RunID     string `json:"run_id"`
	DatasetID string `json:"dataset_id"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	RowsAdded int    `json:"rows_added"`
	Error     string `json:"error,omitempty"`
}
