package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	// JobTypeAIOperation processes one pending operation and settles it.
	JobTypeAIOperation JobType = "ai_operation"
	// JobTypeRecoverOperations resolves operations stuck in pending.
	JobTypeRecoverOperations JobType = "recover_operations"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// AIOperationJobPayload identifies the operation a worker should execute
type AIOperationJobPayload struct {
	OperationID   string `json:"operation_id"`
	AccountID     string `json:"account_id"`
	OperationType string `json:"operation_type"`
}

// ToMap converts the payload to a map for storage
func (p AIOperationJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"operation_id":   p.OperationID,
		"account_id":     p.AccountID,
		"operation_type": p.OperationType,
	}
}

// AIOperationJobPayloadFromMap creates a payload from a map
func AIOperationJobPayloadFromMap(data map[string]interface{}) (*AIOperationJobPayload, error) {
	var payload AIOperationJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// RecoverOperationsJobPayload bounds a single recovery sweep
type RecoverOperationsJobPayload struct {
	OlderThanSeconds int `json:"older_than_seconds"`
	Limit            int `json:"limit"`
}

func (p RecoverOperationsJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"older_than_seconds": p.OlderThanSeconds,
		"limit":              p.Limit,
	}
}

func RecoverOperationsJobPayloadFromMap(data map[string]interface{}) (*RecoverOperationsJobPayload, error) {
	var payload RecoverOperationsJobPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func decodePayload(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
