// Package types defines the public domain types for the tidemark ingestion catalog.
package types

// RunStatus is the terminal outcome of a single pipeline run.
type RunStatus string

// RunStatus values enumerate the possible pipeline run outcomes.
const (
	RunCompleted   RunStatus = "completed"
	RunNoChange    RunStatus = "no_change"
	RunNoNewData   RunStatus = "no_new_data"
	RunCASConflict RunStatus = "cas_conflict"
	RunSkippedLock RunStatus = "skipped_lock"
	RunError       RunStatus = "error"
)

// SourceKind classifies where a row's data originated.
type SourceKind string

// SourceKind values enumerate the supported source kinds.
const (
	SourceKindFile SourceKind = "FILE"
	SourceKindAPI  SourceKind = "API"
)

// QualityFlag marks the quality assessment of a single observation.
type QualityFlag string

// QualityFlag values enumerate the supported quality assessments.
const (
	QualityOK      QualityFlag = "OK"
	QualityOutlier QualityFlag = "OUTLIER"
	QualityImputed QualityFlag = "IMPUTED"
)

// ConsolidationStatus is the state recorded in a per-month consolidation manifest.
type ConsolidationStatus string

// ConsolidationStatus values enumerate the consolidation states.
const (
	ConsolidationInProgress ConsolidationStatus = "in_progress"
	ConsolidationCompleted  ConsolidationStatus = "completed"
)
