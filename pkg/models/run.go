package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxRowFailureSamples caps RunResult.FailedRows.
const MaxRowFailureSamples = 100

// RunRequest selects what to import. Table is either a TableMapping id or a
// source table name; TargetTable disambiguates when a source table feeds
// several targets.
type RunRequest struct {
	SourceName  string `json:"source"`
	Table       string `json:"table"`
	TargetTable string `json:"target_table,omitempty"`
	DryRun      bool   `json:"dry_run"`
}

// RowFailure describes one abandoned row.
type RowFailure struct {
	NaturalKey any    `json:"natural_key" yaml:"natural_key"`
	Field      string `json:"field,omitempty" yaml:"field,omitempty"`
	Error      string `json:"error" yaml:"error"`
}

// RunResult is what a caller gets back from a run.
type RunResult struct {
	ImportLogID    *uuid.UUID   `json:"import_log_id,omitempty" yaml:"import_log_id,omitempty"`
	TableMappingID uuid.UUID    `json:"table_mapping_id" yaml:"table_mapping_id"`
	Status         ImportStatus `json:"status" yaml:"status"`
	DryRun         bool         `json:"dry_run" yaml:"dry_run"`
	ImportCounts   `yaml:",inline"`
	Batches        int          `json:"batches_committed" yaml:"batches_committed"`
	ErrorMessage   string       `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	FailedRows     []RowFailure `json:"failed_rows,omitempty" yaml:"failed_rows,omitempty"`
	StartedAt      time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time    `json:"finished_at" yaml:"finished_at"`
}
