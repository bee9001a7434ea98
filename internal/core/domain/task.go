package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeSyncRecord syncs one order into an invoice
	TaskTypeSyncRecord TaskType = "sync_record"
	// TaskTypeApplyPayment records the payment for one order
	TaskTypeApplyPayment TaskType = "apply_payment"
	// TaskTypeSyncRefund creates a credit note for one refund
	TaskTypeSyncRefund TaskType = "sync_refund"
	// TaskTypeSyncBatch syncs a list of orders or a date range
	TaskTypeSyncBatch TaskType = "sync_batch"
	// TaskTypeReconcile generates a reconciliation report
	TaskTypeReconcile TaskType = "reconcile"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// Payload contains task-specific data
	// For sync_record: {"record_id": "1001", "as_draft": "false", "force": "false"}
	// For sync_refund: {"record_id": "1001", "refund_id": "r-1"}
	// For sync_batch: {"batch_id": "...", "from": RFC3339, "to": RFC3339} or {"record_ids": "1,2,3"}
	// For reconcile: {"from": RFC3339, "to": RFC3339}
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum delivery count before giving up.
	// Record-level retries belong to the retry scheduler, so this stays low.
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  2,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewSyncRecordTask creates a task to sync one order
func NewSyncRecordTask(recordID string, opts SyncOptions) *Task {
	return NewTask(TaskTypeSyncRecord, map[string]string{
		"record_id": recordID,
		"as_draft":  boolString(opts.AsDraft),
		"force":     boolString(opts.Force),
	})
}

// NewApplyPaymentTask creates a task to record an order's payment
func NewApplyPaymentTask(recordID string, force bool) *Task {
	return NewTask(TaskTypeApplyPayment, map[string]string{
		"record_id": recordID,
		"force":     boolString(force),
	})
}

// NewSyncRefundTask creates a task to sync one refund
func NewSyncRefundTask(recordID, refundID string) *Task {
	return NewTask(TaskTypeSyncRefund, map[string]string{
		"record_id": recordID,
		"refund_id": refundID,
	})
}

// NewSyncBatchTask creates a task to sync a batch by ids or by date range.
// The batch id doubles as the cancellation handle.
func NewSyncBatchTask(batchID string, recordIDs []string, from, to *time.Time, asDraft bool) *Task {
	payload := map[string]string{
		"batch_id": batchID,
		"as_draft": boolString(asDraft),
	}
	if len(recordIDs) > 0 {
		payload["record_ids"] = strings.Join(recordIDs, ",")
	}
	if from != nil && to != nil {
		payload["from"] = from.UTC().Format(time.RFC3339)
		payload["to"] = to.UTC().Format(time.RFC3339)
	}
	return NewTask(TaskTypeSyncBatch, payload)
}

// NewReconcileTask creates a task to reconcile a period
func NewReconcileTask(from, to time.Time) *Task {
	return NewTask(TaskTypeReconcile, map[string]string{
		"from": from.UTC().Format(time.RFC3339),
		"to":   to.UTC().Format(time.RFC3339),
	})
}

// RecordID extracts the record_id from the payload
func (t *Task) RecordID() string {
	return t.Param("record_id")
}

// Param returns a payload value or ""
func (t *Task) Param(key string) string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

// BoolParam returns a payload flag
func (t *Task) BoolParam(key string) bool {
	return t.Param(key) == "true"
}

// TimeParam parses an RFC3339 payload value
func (t *Task) TimeParam(key string) (time.Time, error) {
	return time.Parse(time.RFC3339, t.Param(key))
}

// ListParam splits a comma-separated payload value
func (t *Task) ListParam(key string) []string {
	v := t.Param(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && time.Now().After(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
	t.Error = err
}

// Retry resets the task for redelivery with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	// 1s, 2s, 4s, ... capped at 5 minutes
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	t.ScheduledFor = now.Add(backoff)
}

// TaskResult represents the outcome of processing a task
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	ItemsCount  int           `json:"items_count,omitempty"`
	ErrorsCount int           `json:"errors_count,omitempty"`
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
