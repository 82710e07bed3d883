package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the lifecycle state of an ImportLog.
type ImportStatus string

const (
	ImportStatusRunning ImportStatus = "running"
	ImportStatusSuccess ImportStatus = "success"
	ImportStatusFailed  ImportStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusSuccess || s == ImportStatusFailed
}

// ImportCounts are the aggregate row outcomes of one run.
type ImportCounts struct {
	Read    int `json:"records_read" yaml:"records_read"`
	Created int `json:"records_created" yaml:"records_created"`
	Updated int `json:"records_updated" yaml:"records_updated"`
	Failed  int `json:"records_failed" yaml:"records_failed"`
}

// ImportLog is the audit row for one run attempt. It is created when the run
// starts and finalized exactly once.
type ImportLog struct {
	ID             uuid.UUID    `json:"id"`
	TableMappingID uuid.UUID    `json:"table_mapping_id"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
	Status         ImportStatus `json:"status"`
	ImportCounts
	ErrorMessage *string `json:"error_message,omitempty"`
}
