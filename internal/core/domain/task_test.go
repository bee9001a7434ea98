package domain

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" || id2 == "" {
		t.Error("expected non-empty IDs")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	// Fits the VARCHAR(36) task id column
	if len(id1) != 36 {
		t.Errorf("expected ID length 36, got %d", len(id1))
	}
}

func TestNewSyncBatchTask(t *testing.T) {
	task := NewSyncBatchTask("b-1", []string{"1001", "1002"}, nil, nil, true)
	if task.Param("batch_id") != "b-1" {
		t.Errorf("expected batch id b-1, got %s", task.Param("batch_id"))
	}
	ids := task.ListParam("record_ids")
	if len(ids) != 2 || ids[1] != "1002" {
		t.Errorf("unexpected record ids %v", ids)
	}
	if task.Param("from") != "" {
		t.Error("expected no range without both bounds")
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	ranged := NewSyncBatchTask("b-2", nil, &from, &to, false)
	if ranged.ListParam("record_ids") != nil {
		t.Error("expected no record ids")
	}
	if got, _ := ranged.TimeParam("to"); !got.Equal(to) {
		t.Errorf("expected to %v, got %v", to, got)
	}
}

func TestNewSyncRecordTask(t *testing.T) {
	task := NewSyncRecordTask("1001", SyncOptions{AsDraft: true})

	if task.Type != TaskTypeSyncRecord {
		t.Errorf("expected type %s, got %s", TaskTypeSyncRecord, task.Type)
	}
	if task.RecordID() != "1001" {
		t.Errorf("expected record id 1001, got %s", task.RecordID())
	}
	if !task.BoolParam("as_draft") {
		t.Error("expected as_draft to be true")
	}
	if task.BoolParam("force") {
		t.Error("expected force to be false")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected status %s, got %s", TaskStatusPending, task.Status)
	}
}

func TestNewReconcileTask(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	task := NewReconcileTask(from, to)

	gotFrom, err := task.TimeParam("from")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotFrom.Equal(from) {
		t.Errorf("expected from %v, got %v", from, gotFrom)
	}
	if _, err := task.TimeParam("missing"); err == nil {
		t.Error("expected error for missing param")
	}
}

func TestTaskParamNilPayload(t *testing.T) {
	task := &Task{}
	if task.RecordID() != "" {
		t.Error("expected empty record id for nil payload")
	}
}

func TestTaskLifecycle(t *testing.T) {
	task := NewApplyPaymentTask("1001", false)

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing {
		t.Errorf("expected processing, got %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", task.Attempts)
	}
	if !task.CanRetry() {
		t.Error("expected task to be retryable after first attempt")
	}

	task.Retry("boom")
	if task.Status != TaskStatusPending {
		t.Errorf("expected pending after retry, got %s", task.Status)
	}
	if !task.ScheduledFor.After(task.UpdatedAt) {
		t.Error("expected retry to be scheduled in the future")
	}

	task.MarkProcessing()
	if task.CanRetry() {
		t.Error("expected no retries left")
	}
	task.MarkCompleted()
	if task.Status != TaskStatusCompleted || task.Error != "" {
		t.Error("expected completed task with cleared error")
	}
}
