package model

import (
	"strings"
	"time"
)

// RunStatus represents the state of a batch enrichment run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// ErrorKind classifies why a single record failed.
type ErrorKind string

const (
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindPermanent        ErrorKind = "permanent"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindEnrichmentFailed ErrorKind = "enrichment_failed"
	ErrorKindInvalidRecord    ErrorKind = "invalid_record"
	ErrorKindSink             ErrorKind = "sink"
)

// RecordFailure describes one record that was not checkpointed.
type RecordFailure struct {
	DealID string    `json:"deal_id"`
	Kind   ErrorKind `json:"kind"`
	Error  string    `json:"error"`
}

// Summary is the outcome of one batch run.
type Summary struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Failures  []RecordFailure `json:"failures,omitempty"`
}

// Total returns the number of records the run looked at.
func (s Summary) Total() int {
	return s.Succeeded + s.Failed + s.Skipped
}

// Run is the persisted history entry for one invocation of the batch driver.
type Run struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Input      string    `json:"input"`
	FreshStart bool      `json:"fresh_start"`
	Status     RunStatus `json:"status"`
	Summary    *Summary  `json:"summary,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CheckpointEntry records that a deal completed enrichment for a source tag.
type CheckpointEntry struct {
	DealID      string    `json:"deal_id"`
	Source      string    `json:"source"`
	CompletedAt time.Time `json:"completed_at"`
}

// ValidDealID reports whether id is usable as a checkpoint key.
func ValidDealID(id string) bool {
	return strings.TrimSpace(id) != ""
}
