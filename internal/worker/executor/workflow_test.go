package executor

import (
	"encoding/json"
	"testing"

	commonv1 "github.com/linkflow/engine/api/gen/linkflow/common/v1"
	historyv1 "github.com/linkflow/engine/api/gen/linkflow/history/v1"
	"github.com/linkflow/engine/internal/history/decider"
	historytypes "github.com/linkflow/engine/internal/history/types"
)

func TestTranslateHistory_ExecutionStartedCarriesInput(t *testing.T) {
	events := []*historyv1.HistoryEvent{
		{
			EventId:   1,
			EventType: commonv1.EventType_EVENT_TYPE_EXECUTION_STARTED,
			Attributes: &historyv1.HistoryEvent_ExecutionStartedAttributes{
				ExecutionStartedAttributes: &historyv1.ExecutionStartedEventAttributes{
					Input: &commonv1.Payloads{
						Payloads: []*commonv1.Payload{{Data: []byte(`{"workflow":{"nodes":[]}}`)}},
					},
				},
			},
		},
	}

	history, err := translateHistory(events)
	if err != nil {
		t.Fatalf("translateHistory: %v", err)
	}
	if len(history) != 1 || history[0].EventType != historytypes.EventTypeExecutionStarted {
		t.Fatalf("history = %+v, want single ExecutionStarted event", history)
	}
	attrs, ok := history[0].Attributes.(*historytypes.ExecutionStartedAttributes)
	if !ok {
		t.Fatalf("attributes type = %T, want *historytypes.ExecutionStartedAttributes", history[0].Attributes)
	}
	if string(attrs.Input) != `{"workflow":{"nodes":[]}}` {
		t.Errorf("input = %s, want passthrough of the execution-started payload", attrs.Input)
	}
}

func TestTranslateHistory_RequiresExecutionStartedFirst(t *testing.T) {
	events := []*historyv1.HistoryEvent{
		{EventId: 1, EventType: commonv1.EventType_EVENT_TYPE_NODE_SCHEDULED, Attributes: &historyv1.HistoryEvent_NodeScheduledAttributes{
			NodeScheduledAttributes: &historyv1.NodeScheduledEventAttributes{NodeId: "a"},
		}},
	}

	if _, err := translateHistory(events); err == nil {
		t.Fatal("expected an error when history does not start with ExecutionStarted")
	}
}

func TestTranslateHistory_NodeCompletedResolvesNodeIDFromScheduledEvent(t *testing.T) {
	events := []*historyv1.HistoryEvent{
		{
			EventId:   1,
			EventType: commonv1.EventType_EVENT_TYPE_EXECUTION_STARTED,
			Attributes: &historyv1.HistoryEvent_ExecutionStartedAttributes{
				ExecutionStartedAttributes: &historyv1.ExecutionStartedEventAttributes{},
			},
		},
		{
			EventId:   2,
			EventType: commonv1.EventType_EVENT_TYPE_NODE_SCHEDULED,
			Attributes: &historyv1.HistoryEvent_NodeScheduledAttributes{
				NodeScheduledAttributes: &historyv1.NodeScheduledEventAttributes{NodeId: "a"},
			},
		},
		{
			EventId:   3,
			EventType: commonv1.EventType_EVENT_TYPE_NODE_COMPLETED,
			Attributes: &historyv1.HistoryEvent_NodeCompletedAttributes{
				NodeCompletedAttributes: &historyv1.NodeCompletedEventAttributes{
					ScheduledEventId: 2,
					Result:           &commonv1.Payloads{Payloads: []*commonv1.Payload{{Data: []byte(`{"ok":true}`)}}},
				},
			},
		},
	}

	history, err := translateHistory(events)
	if err != nil {
		t.Fatalf("translateHistory: %v", err)
	}
	completed := history[2]
	attrs, ok := completed.Attributes.(*historytypes.NodeCompletedAttributes)
	if !ok {
		t.Fatalf("attributes type = %T, want *historytypes.NodeCompletedAttributes", completed.Attributes)
	}
	if attrs.NodeID != "a" {
		t.Errorf("NodeID = %q, want %q (resolved via ScheduledEventId)", attrs.NodeID, "a")
	}
	if string(attrs.Result) != `{"ok":true}` {
		t.Errorf("Result = %s, want passthrough", attrs.Result)
	}
}

func TestTranslateCommand_ScheduleActivityTask(t *testing.T) {
	cmd, err := translateCommand(decider.Command{
		Kind:     decider.ScheduleActivityTask,
		NodeID:   "a",
		NodeType: "http_request",
		Input:    json.RawMessage(`{"x":1}`),
		Config:   json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("translateCommand: %v", err)
	}
	if cmd.CommandType != historyv1.CommandType_COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK {
		t.Fatalf("CommandType = %v, want COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK", cmd.CommandType)
	}
	attrs := cmd.GetScheduleActivityTaskAttributes()
	if attrs.NodeId != "a" || attrs.NodeType != "http_request" {
		t.Errorf("attrs = %+v, want node a/http_request", attrs)
	}
	if len(attrs.Input.GetPayloads()) != 1 || string(attrs.Input.GetPayloads()[0].GetData()) != `{"x":1}` {
		t.Errorf("input payload = %+v, want passthrough of decider input", attrs.Input)
	}
}

func TestTranslateCommand_CompleteWorkflowExecution(t *testing.T) {
	cmd, err := translateCommand(decider.Command{
		Kind:   decider.CompleteWorkflowExecution,
		Status: "completed",
		Result: json.RawMessage(`{"done":true}`),
	})
	if err != nil {
		t.Fatalf("translateCommand: %v", err)
	}
	if cmd.CommandType != historyv1.CommandType_COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION {
		t.Fatalf("CommandType = %v, want COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION", cmd.CommandType)
	}
}

func TestTranslateCommand_FailWorkflowExecution(t *testing.T) {
	cmd, err := translateCommand(decider.Command{
		Kind:    decider.FailWorkflowExecution,
		Message: "node 'a' failed: boom",
	})
	if err != nil {
		t.Fatalf("translateCommand: %v", err)
	}
	attrs := cmd.GetFailWorkflowExecutionAttributes()
	if attrs.GetFailure().GetMessage() != "node 'a' failed: boom" {
		t.Errorf("failure message = %q, want passthrough", attrs.GetFailure().GetMessage())
	}
}
