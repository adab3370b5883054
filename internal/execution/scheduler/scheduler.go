// Package scheduler drives a single execution end-to-end in one process,
// without the History/Matching/Worker service split. It exists for local
// development and integration tests that want to run a workflow graph
// in-memory: it folds internal/history/decider's pure decisions against
// an in-memory event log and dispatches each round's activity commands to
// a NodeExecutor concurrently, bounded by Config.Concurrency.
//
// It is not on the hot path of the hosted execution plane — there, the
// worker's workflow-task executor (internal/worker/executor/workflow.go)
// replays durable history through the decider and Matching/Worker dispatch
// activities over gRPC (see internal/worker/service.go). LocalRunner is the
// same decider wired to a trivial in-memory history and a direct executor
// call instead.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/linkflow/engine/internal/execution/graph"
	"github.com/linkflow/engine/internal/history/decider"
	"github.com/linkflow/engine/internal/history/types"
	"github.com/linkflow/engine/internal/observability/metrics"
	"github.com/linkflow/engine/internal/observability/tracing"
	"github.com/linkflow/engine/internal/queue"
)

var (
	ErrExecutionFailed  = errors.New("execution failed")
	ErrExecutionTimeout = errors.New("execution timed out")
)

// NodeExecutor runs a single node and returns its output.
type NodeExecutor interface {
	Execute(ctx context.Context, nodeType string, input json.RawMessage, config json.RawMessage) (*NodeResult, error)
}

// NodeResult is one node's execution outcome.
type NodeResult struct {
	NodeID string
	Output json.RawMessage
}

// Config holds LocalRunner configuration.
type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// DefaultConfig returns default LocalRunner config.
func DefaultConfig() Config {
	return Config{
		Concurrency: 10,
		Timeout:     5 * time.Minute,
	}
}

// LocalRunner executes one workflow graph in-process, re-deciding with
// decider.Decide after every round of node completions.
type LocalRunner struct {
	dag         *graph.DAG
	executor    NodeExecutor
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.ServiceMetrics
	tracer      *tracing.Tracer
	taskQueue   *queue.TaskQueue
	pending     sync.Map // task ID -> chan roundResult
}

// NewLocalRunner creates a LocalRunner for the given graph and executor. Node
// dispatch within a round goes through a queue.TaskQueue rather than a bare
// semaphore, so it inherits the same bounded-worker-pool/priority-dequeue
// behavior as the hosted execution plane's task queues.
func NewLocalRunner(dag *graph.DAG, executor NodeExecutor, config Config, logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	r := &LocalRunner{
		dag:         dag,
		executor:    executor,
		concurrency: config.Concurrency,
		timeout:     config.Timeout,
		logger:      logger,
		metrics:     metrics.NewServiceMetrics(nil, "local_runner"),
		tracer:      tracing.GlobalTracer,
	}
	r.taskQueue = queue.NewTaskQueue(queue.TaskQueueConfig{
		Name:       "local-runner",
		Workers:    config.Concurrency,
		WorkerFunc: r.executeTask,
	})
	return r
}

// nodeTaskPayload is the queue.Task.Payload encoding for a scheduled node.
type nodeTaskPayload struct {
	Input  json.RawMessage `json:"input"`
	Config json.RawMessage `json:"config"`
}

// Result is the final outcome of a LocalRunner.Run call.
type Result struct {
	Status   string // "completed" | "partial_failure" | "failed"
	Outputs  json.RawMessage
	Message  string
	Duration time.Duration
}

// Run drives the graph to completion, round by round: fold history with
// decider.Decide, dispatch every ScheduleActivityTask command concurrently
// (bounded by Concurrency), append the resulting Node events, and repeat
// until Decide returns a terminal command.
func (r *LocalRunner) Run(ctx context.Context, executionID string, input json.RawMessage) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ctx, span := r.tracer.Start(ctx, "local_runner.run")
	span.SetAttribute("execution_id", executionID)
	defer span.End()

	if err := r.taskQueue.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	defer r.taskQueue.Stop(context.Background())

	started := time.Now()
	r.metrics.ExecutionStarted("local", executionID)

	// The caller already holds the built *graph.DAG, so rebuild the
	// wire-shaped NodeDef/EdgeDef the decider expects from it directly
	// rather than re-deriving it from the original WorkflowDefinition.
	workflowInput := r.encodeStartInput(input)

	history := []*types.HistoryEvent{
		{
			EventID:   1,
			EventType: types.EventTypeExecutionStarted,
			Timestamp: started,
			Attributes: &types.ExecutionStartedAttributes{
				WorkflowType: executionID,
				Input:        workflowInput,
			},
		},
	}
	nextEventID := int64(2)

	r.logger.Info("starting local execution",
		slog.String("execution_id", executionID),
		slog.Int("node_count", len(r.dag.Nodes)),
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		commands, err := decider.Decide(history)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		}

		var scheduled []decider.Command
		terminal := (*decider.Command)(nil)
		for i := range commands {
			switch commands[i].Kind {
			case decider.ScheduleActivityTask:
				scheduled = append(scheduled, commands[i])
			case decider.CompleteWorkflowExecution, decider.FailWorkflowExecution:
				terminal = &commands[i]
			}
		}

		if terminal != nil {
			result := r.finish(terminal, history, started)
			r.metrics.ExecutionCompleted("local", executionID, result.Status, result.Duration)
			span.SetAttribute("status", result.Status)
			if result.Status == "failed" {
				span.SetStatus(tracing.SpanStatusError, result.Message)
			}
			return result, nil
		}

		results := r.runRound(ctx, scheduled)
		for _, res := range results {
			history = append(history, res.toEvent(nextEventID))
			nextEventID++
		}
	}
}

type roundResult struct {
	nodeID  string
	output  json.RawMessage
	failed  bool
	reason  string
}

func (rr roundResult) toEvent(eventID int64) *types.HistoryEvent {
	if rr.failed {
		return &types.HistoryEvent{
			EventID:   eventID,
			EventType: types.EventTypeNodeFailed,
			Timestamp: time.Now(),
			Attributes: &types.NodeFailedAttributes{
				NodeID: rr.nodeID,
				Reason: rr.reason,
			},
		}
	}
	return &types.HistoryEvent{
		EventID:   eventID,
		EventType: types.EventTypeNodeCompleted,
		Timestamp: time.Now(),
		Attributes: &types.NodeCompletedAttributes{
			NodeID: rr.nodeID,
			Result: rr.output,
		},
	}
}

// runRound enqueues every scheduled command onto the task queue and blocks
// until each has reported a result (or the context is canceled). Node
// dispatch and worker concurrency are the queue's responsibility; this only
// waits for the round to drain.
func (r *LocalRunner) runRound(ctx context.Context, commands []decider.Command) []roundResult {
	results := make([]roundResult, len(commands))
	chans := make([]chan roundResult, len(commands))

	for i, cmd := range commands {
		payload, _ := json.Marshal(nodeTaskPayload{Input: cmd.Input, Config: cmd.Config})
		taskID := fmt.Sprintf("%s-%d", cmd.NodeID, i)

		ch := make(chan roundResult, 1)
		chans[i] = ch
		r.pending.Store(taskID, ch)

		if err := r.taskQueue.Enqueue(&queue.Task{
			ID:          taskID,
			NodeID:      cmd.NodeID,
			TaskType:    cmd.NodeType,
			Priority:    queue.PriorityNormal,
			Payload:     payload,
			MaxAttempts: 1,
		}); err != nil {
			r.pending.Delete(taskID)
			results[i] = roundResult{nodeID: cmd.NodeID, failed: true, reason: err.Error()}
			close(ch)
		}
	}

	for i, ch := range chans {
		select {
		case res, ok := <-ch:
			if ok {
				results[i] = res
			}
		case <-ctx.Done():
			return results
		}
	}
	return results
}

// executeTask is the task queue's WorkerFunc: it runs one node and delivers
// the outcome back to the waiting runRound call via the pending channel.
func (r *LocalRunner) executeTask(ctx context.Context, task *queue.Task) error {
	nodeCtx, span := r.tracer.Start(ctx, "local_runner.node")
	span.SetAttribute("node_id", task.NodeID)
	span.SetAttribute("node_type", task.TaskType)
	nodeStart := time.Now()
	defer span.End()

	var payload nodeTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		r.deliver(task.ID, roundResult{nodeID: task.NodeID, failed: true, reason: err.Error()})
		return err
	}

	res, err := r.executor.Execute(nodeCtx, task.TaskType, payload.Input, payload.Config)
	if err != nil {
		span.RecordError(err)
		r.metrics.NodeExecuted(task.TaskType, "failed", time.Since(nodeStart))
		r.deliver(task.ID, roundResult{nodeID: task.NodeID, failed: true, reason: err.Error()})
		return err
	}
	r.metrics.NodeExecuted(task.TaskType, "completed", time.Since(nodeStart))
	r.deliver(task.ID, roundResult{nodeID: task.NodeID, output: res.Output})
	return nil
}

func (r *LocalRunner) deliver(taskID string, result roundResult) {
	if ch, ok := r.pending.LoadAndDelete(taskID); ok {
		ch.(chan roundResult) <- result
	}
}

func (r *LocalRunner) finish(terminal *decider.Command, history []*types.HistoryEvent, started time.Time) *Result {
	duration := time.Since(started)
	if terminal.Kind == decider.FailWorkflowExecution {
		r.logger.Error("local execution failed", slog.String("message", terminal.Message))
		return &Result{Status: "failed", Message: terminal.Message, Duration: duration}
	}
	r.logger.Info("local execution completed", slog.String("status", terminal.Status), slog.Duration("duration", duration))
	return &Result{Status: terminal.Status, Outputs: terminal.Result, Duration: duration}
}

// encodeStartInput builds the ExecutionStarted input envelope the decider
// expects, carrying the graph's nodes/edges alongside the trigger payload.
func (r *LocalRunner) encodeStartInput(trigger json.RawMessage) json.RawMessage {
	nodes := make([]graph.NodeDef, 0, len(r.dag.DeclaredOrder))
	for _, id := range r.dag.DeclaredOrder {
		n := r.dag.Nodes[id]
		nodes = append(nodes, graph.NodeDef{
			ID:       n.ID,
			Type:     n.Type,
			Position: n.Position,
			Data: graph.NodeData{
				Label:   n.Name,
				Config:  n.Config,
				OnError: n.OnError,
			},
		})
	}

	var edges []graph.EdgeDef
	for source, targets := range r.dag.Edges {
		for _, target := range targets {
			info := r.dag.GetEdgeInfo(source, target)
			edge := graph.EdgeDef{Source: source, Target: target}
			if info != nil {
				edge.SourceHandle = info.SourceHandle
				edge.TargetHandle = info.TargetHandle
				edge.Label = info.Label
				edge.Condition = info.Condition
			}
			edges = append(edges, edge)
		}
	}

	out, _ := json.Marshal(struct {
		Workflow struct {
			Nodes []graph.NodeDef `json:"nodes"`
			Edges []graph.EdgeDef `json:"edges"`
		} `json:"workflow"`
		TriggerData json.RawMessage `json:"trigger_data"`
	}{
		Workflow: struct {
			Nodes []graph.NodeDef `json:"nodes"`
			Edges []graph.EdgeDef `json:"edges"`
		}{Nodes: nodes, Edges: edges},
		TriggerData: trigger,
	})
	return out
}
