package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition can leave this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job types
const (
	JobTypeGeneration = "generation"
)

// Job represents a generation job tracked against the remote engine.
// ExternalID is the engine's task id; it is set once the engine has
// accepted the submission and never changes afterwards.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Message     string          `json:"message,omitempty"`
	Error       *string         `json:"error,omitempty"`
	ExternalID  *string         `json:"externalId,omitempty"`
	RequestData json.RawMessage `json:"-"`
	ResultData  json.RawMessage `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// JobUpdate is a partial update applied to a stored job. Nil fields are
// left untouched. ClearError resets the error column; a failing write sets
// Error instead, so the two are never combined.
type JobUpdate struct {
	Status      *JobStatus
	Progress    *int
	CurrentStep *string
	Message     *string
	Error       *string
	ClearError  bool
	ExternalID  *string
	ResultData  json.RawMessage
}

// StatusFromEngine maps the engine's status vocabulary onto the job
// lifecycle. The engine reports fine-grained intermediate labels
// (loading_model, generating_audio, ...) which all collapse to processing;
// the raw label is kept on the job as CurrentStep.
func StatusFromEngine(engineStatus string) JobStatus {
	switch engineStatus {
	case "completed", "success":
		return JobStatusCompleted
	case "failed", "error":
		return JobStatusFailed
	default:
		return JobStatusProcessing
	}
}
