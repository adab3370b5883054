package executor

import (
	"context"
	"encoding/json"
	"testing"
)

func TestScheduleTriggerExecutor_ValidCronPassesInputThrough(t *testing.T) {
	t.Parallel()

	exec := NewScheduleTriggerExecutor()
	config, _ := json.Marshal(ScheduleTriggerConfig{Cron: "*/5 * * * *"})

	resp, err := exec.Execute(context.Background(), &ExecuteRequest{
		NodeType: "trigger_schedule",
		NodeID:   "trigger-1",
		Config:   config,
		Input:    json.RawMessage(`{"fired_at":"2026-01-01T00:00:00Z"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("expected no execute error, got: %+v", resp.Error)
	}
	if string(resp.Output) != `{"fired_at":"2026-01-01T00:00:00Z"}` {
		t.Errorf("output = %s, want input passed through", resp.Output)
	}
}

func TestScheduleTriggerExecutor_MissingCronIsNonRetryable(t *testing.T) {
	t.Parallel()

	exec := NewScheduleTriggerExecutor()
	config, _ := json.Marshal(ScheduleTriggerConfig{})

	resp, err := exec.Execute(context.Background(), &ExecuteRequest{
		NodeType: "trigger_schedule",
		NodeID:   "trigger-1",
		Config:   config,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error == nil || resp.Error.Type != ErrorTypeNonRetryable {
		t.Fatalf("Error = %+v, want non-retryable error for missing cron", resp.Error)
	}
}

func TestScheduleTriggerExecutor_InvalidCronIsNonRetryable(t *testing.T) {
	t.Parallel()

	exec := NewScheduleTriggerExecutor()
	config, _ := json.Marshal(ScheduleTriggerConfig{Cron: "not a cron expression"})

	resp, err := exec.Execute(context.Background(), &ExecuteRequest{
		NodeType: "trigger_schedule",
		NodeID:   "trigger-1",
		Config:   config,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error == nil || resp.Error.Type != ErrorTypeNonRetryable {
		t.Fatalf("Error = %+v, want non-retryable error for invalid cron", resp.Error)
	}
}

func TestScheduleTriggerExecutor_NodeType(t *testing.T) {
	exec := NewScheduleTriggerExecutor()
	if exec.NodeType() != "trigger_schedule" {
		t.Errorf("NodeType() = %q, want trigger_schedule", exec.NodeType())
	}
}
