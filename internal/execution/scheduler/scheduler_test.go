package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linkflow/engine/internal/execution/graph"
)

type fakeExecutor struct {
	fail map[string]string // nodeID -> failure reason
}

func (f *fakeExecutor) Execute(ctx context.Context, nodeType string, input json.RawMessage, config json.RawMessage) (*NodeResult, error) {
	return &NodeResult{Output: input}, nil
}

func buildTestDAG(t *testing.T) *graph.DAG {
	t.Helper()
	dag, err := graph.BuildDAG(&graph.WorkflowDefinition{
		Nodes: []graph.NodeDef{
			{ID: "a", Type: "manual", Data: graph.NodeData{Config: json.RawMessage(`{}`)}},
			{ID: "b", Type: "manual", Data: graph.NodeData{Config: json.RawMessage(`{}`)}},
		},
		Edges: []graph.EdgeDef{
			{Source: "a", Target: "b"},
		},
	})
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	return dag
}

func TestLocalRunner_RunCompletesLinearGraph(t *testing.T) {
	dag := buildTestDAG(t)
	runner := NewLocalRunner(dag, &fakeExecutor{}, DefaultConfig(), nil)

	result, err := runner.Run(context.Background(), "exec-1", json.RawMessage(`{"seed":1}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("status = %q, want completed", result.Status)
	}
}

func TestLocalRunner_RunFailsWhenNodeErrors(t *testing.T) {
	dag := buildTestDAG(t)

	erroring := &erroringExecutor{failNode: "a"}
	runner := NewLocalRunner(dag, erroring, DefaultConfig(), nil)

	result, err := runner.Run(context.Background(), "exec-2", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != "failed" {
		t.Errorf("status = %q, want failed", result.Status)
	}
}

type erroringExecutor struct {
	failNode string
}

var errExecutorFailure = errors.New("node execution failed")

func (e *erroringExecutor) Execute(ctx context.Context, nodeType string, input json.RawMessage, config json.RawMessage) (*NodeResult, error) {
	return &NodeResult{Output: input}, errExecutorFailure
}
