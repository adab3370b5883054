package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	commonv1 "github.com/linkflow/engine/api/gen/linkflow/common/v1"
	historyv1 "github.com/linkflow/engine/api/gen/linkflow/history/v1"
	"github.com/linkflow/engine/internal/history/decider"
	historytypes "github.com/linkflow/engine/internal/history/types"
	"github.com/linkflow/engine/internal/worker/adapter"
)

// WorkflowExecutor is the "workflow" node type: it holds no business logic of
// its own. It fetches the execution's full event history from History,
// replays it through decider.Decide, and hands the resulting Commands back
// to the caller (internal/worker/service.go) for RespondWorkflowTaskCompleted.
// Decide is pure; everything in this file that isn't history fetch/translate
// is decider's job, not this executor's.
type WorkflowExecutor struct {
	historyClient    *adapter.HistoryClient
	logger           *slog.Logger
	executorRegistry *Registry
}

func NewWorkflowExecutor(client *adapter.HistoryClient, logger *slog.Logger) *WorkflowExecutor {
	return &WorkflowExecutor{
		historyClient: client,
		logger:        logger,
	}
}

func (e *WorkflowExecutor) SetRegistry(registry *Registry) {
	e.executorRegistry = registry
}

func (e *WorkflowExecutor) NodeType() string {
	return "workflow"
}

// Execute is pure decision logic from the caller's point of view: it returns
// a list of Commands marshaled in Output. Internally it fetches history,
// translates it into the decider's event shape, and translates the
// decider's Commands back into historyv1.Command.
func (e *WorkflowExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	e.logger.Info("deciding workflow", slog.String("workflow_id", req.WorkflowID))

	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}
	resp, err := e.historyClient.GetHistory(ctx, namespace, req.WorkflowID, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	events := resp.GetHistory().GetEvents()
	if len(events) == 0 {
		return nil, fmt.Errorf("history is empty")
	}

	history, err := translateHistory(events)
	if err != nil {
		return nil, fmt.Errorf("failed to translate history for decider: %w", err)
	}

	decisions, err := decider.Decide(history)
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}

	commands := make([]*historyv1.Command, 0, len(decisions))
	for _, d := range decisions {
		cmd, err := translateCommand(d)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}

	outputBytes, err := json.Marshal(commands)
	if err != nil {
		return nil, err
	}

	return &ExecuteResponse{
		Output: outputBytes,
	}, nil
}

// translateHistory converts the protobuf event log returned by History into
// the plain historytypes.HistoryEvent slice decider.Decide replays. Only the
// event types Decide reads (ExecutionStarted, NodeScheduled, NodeCompleted,
// NodeFailed, TimerStarted, TimerFired) carry attributes across; the rest
// are dropped since Decide ignores everything else.
func translateHistory(events []*historyv1.HistoryEvent) ([]*historytypes.HistoryEvent, error) {
	out := make([]*historytypes.HistoryEvent, 0, len(events))
	scheduledNodeByEventID := make(map[int64]string, len(events))

	for _, ev := range events {
		switch ev.GetEventType() {
		case commonv1.EventType_EVENT_TYPE_EXECUTION_STARTED:
			attr := ev.GetExecutionStartedAttributes()
			var input []byte
			if attr != nil && attr.GetInput() != nil && len(attr.GetInput().GetPayloads()) > 0 {
				input = attr.GetInput().GetPayloads()[0].GetData()
			}
			out = append(out, &historytypes.HistoryEvent{
				EventID:   ev.GetEventId(),
				EventType: historytypes.EventTypeExecutionStarted,
				Attributes: &historytypes.ExecutionStartedAttributes{
					Input: input,
				},
			})

		case commonv1.EventType_EVENT_TYPE_NODE_SCHEDULED:
			attr := ev.GetNodeScheduledAttributes()
			if attr == nil {
				continue
			}
			scheduledNodeByEventID[ev.GetEventId()] = attr.GetNodeId()
			var scheduledInput []byte
			if attr.GetInput() != nil && len(attr.GetInput().GetPayloads()) > 0 {
				scheduledInput = attr.GetInput().GetPayloads()[0].GetData()
			}
			out = append(out, &historytypes.HistoryEvent{
				EventID:   ev.GetEventId(),
				EventType: historytypes.EventTypeNodeScheduled,
				Attributes: &historytypes.NodeScheduledAttributes{
					NodeID:   attr.GetNodeId(),
					NodeType: attr.GetNodeType(),
					Input:    scheduledInput,
				},
			})

		case commonv1.EventType_EVENT_TYPE_TIMER_STARTED:
			attr := ev.GetTimerStartedAttributes()
			if attr == nil {
				continue
			}
			out = append(out, &historytypes.HistoryEvent{
				EventID:   ev.GetEventId(),
				EventType: historytypes.EventTypeTimerStarted,
				Attributes: &historytypes.TimerStartedAttributes{
					TimerID: attr.GetTimerId(),
				},
			})

		case commonv1.EventType_EVENT_TYPE_TIMER_FIRED:
			attr := ev.GetTimerFiredAttributes()
			if attr == nil {
				continue
			}
			out = append(out, &historytypes.HistoryEvent{
				EventID:   ev.GetEventId(),
				EventType: historytypes.EventTypeTimerFired,
				Attributes: &historytypes.TimerFiredAttributes{
					TimerID: attr.GetTimerId(),
				},
			})

		case commonv1.EventType_EVENT_TYPE_NODE_COMPLETED:
			attr := ev.GetNodeCompletedAttributes()
			if attr == nil {
				continue
			}
			var result []byte
			if attr.GetResult() != nil && len(attr.GetResult().GetPayloads()) > 0 {
				result = attr.GetResult().GetPayloads()[0].GetData()
			}
			out = append(out, &historytypes.HistoryEvent{
				EventID:   ev.GetEventId(),
				EventType: historytypes.EventTypeNodeCompleted,
				Attributes: &historytypes.NodeCompletedAttributes{
					NodeID:           scheduledNodeByEventID[attr.GetScheduledEventId()],
					ScheduledEventID: attr.GetScheduledEventId(),
					Result:           result,
				},
			})

		case commonv1.EventType_EVENT_TYPE_NODE_FAILED:
			attr := ev.GetNodeFailedAttributes()
			if attr == nil {
				continue
			}
			out = append(out, &historytypes.HistoryEvent{
				EventID:   ev.GetEventId(),
				EventType: historytypes.EventTypeNodeFailed,
				Attributes: &historytypes.NodeFailedAttributes{
					NodeID:           scheduledNodeByEventID[attr.GetScheduledEventId()],
					ScheduledEventID: attr.GetScheduledEventId(),
					Reason:           attr.GetFailure().GetMessage(),
				},
			})
		}
	}

	if len(out) == 0 || out[0].EventType != historytypes.EventTypeExecutionStarted {
		return nil, fmt.Errorf("history does not begin with an execution-started event")
	}
	return out, nil
}

// translateCommand converts one decider.Command into the historyv1.Command
// wire shape internal/worker/service.go's processWorkflowTask expects back
// in ExecuteResponse.Output.
func translateCommand(cmd decider.Command) (*historyv1.Command, error) {
	switch cmd.Kind {
	case decider.ScheduleActivityTask:
		return &historyv1.Command{
			CommandType: historyv1.CommandType_COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK,
			Attributes: &historyv1.Command_ScheduleActivityTaskAttributes{
				ScheduleActivityTaskAttributes: &historyv1.ScheduleActivityTaskCommandAttributes{
					NodeId:   cmd.NodeID,
					NodeType: cmd.NodeType,
					Name:     cmd.NodeID,
					Input: &commonv1.Payloads{
						Payloads: []*commonv1.Payload{{Data: cmd.Input}},
					},
					TaskQueue: "default",
					Config:    cmd.Config,
				},
			},
		}, nil

	case decider.CompleteWorkflowExecution:
		result := cmd.Result
		if len(result) == 0 {
			result = json.RawMessage(`{}`)
		}
		return &historyv1.Command{
			CommandType: historyv1.CommandType_COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION,
			Attributes: &historyv1.Command_CompleteWorkflowExecutionAttributes{
				CompleteWorkflowExecutionAttributes: &historyv1.CompleteWorkflowExecutionCommandAttributes{
					Result: &commonv1.Payloads{
						Payloads: []*commonv1.Payload{{Data: result}},
					},
				},
			},
		}, nil

	case decider.FailWorkflowExecution:
		return &historyv1.Command{
			CommandType: historyv1.CommandType_COMMAND_TYPE_FAIL_WORKFLOW_EXECUTION,
			Attributes: &historyv1.Command_FailWorkflowExecutionAttributes{
				FailWorkflowExecutionAttributes: &historyv1.FailWorkflowExecutionCommandAttributes{
					Failure: &commonv1.Failure{
						Message: cmd.Message,
					},
				},
			},
		}, nil

	case decider.StartTimer:
		return &historyv1.Command{
			CommandType: historyv1.CommandType_COMMAND_TYPE_START_TIMER,
			Attributes: &historyv1.Command_StartTimerAttributes{
				StartTimerAttributes: &historyv1.StartTimerCommandAttributes{
					TimerId:  cmd.TimerID,
					FireTime: cmd.FireTime,
				},
			},
		}, nil

	case decider.CancelTimer:
		return &historyv1.Command{
			CommandType: historyv1.CommandType_COMMAND_TYPE_CANCEL_TIMER,
			Attributes: &historyv1.Command_CancelTimerAttributes{
				CancelTimerAttributes: &historyv1.CancelTimerCommandAttributes{
					TimerId: cmd.TimerID,
				},
			},
		}, nil

	default:
		return nil, fmt.Errorf("translateCommand: unsupported command kind %v", cmd.Kind)
	}
}
