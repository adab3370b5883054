package decider

import (
	"encoding/json"
	"testing"

	"github.com/linkflow/engine/internal/history/types"
)

func startEvent(t *testing.T, nodes []graphNode, edges []graphEdge, trigger string) *types.HistoryEvent {
	t.Helper()

	type nodeDef struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Label   string          `json:"label"`
			Config  json.RawMessage `json:"config"`
			OnError string          `json:"onError"`
		} `json:"data"`
	}
	type edgeDef struct {
		Source       string `json:"source"`
		Target       string `json:"target"`
		SourceHandle string `json:"sourceHandle,omitempty"`
		Condition    string `json:"condition,omitempty"`
	}

	var defs []nodeDef
	for _, n := range nodes {
		d := nodeDef{ID: n.id, Type: n.nodeType}
		d.Data.Config = json.RawMessage(`{}`)
		d.Data.OnError = n.onError
		defs = append(defs, d)
	}

	var edgeDefs []edgeDef
	for _, e := range edges {
		edgeDefs = append(edgeDefs, edgeDef{Source: e.source, Target: e.target, SourceHandle: e.sourceHandle})
	}

	input, err := json.Marshal(struct {
		Workflow struct {
			Nodes []nodeDef `json:"nodes"`
			Edges []edgeDef `json:"edges"`
		} `json:"workflow"`
		TriggerData json.RawMessage `json:"trigger_data"`
	}{
		Workflow: struct {
			Nodes []nodeDef `json:"nodes"`
			Edges []edgeDef `json:"edges"`
		}{Nodes: defs, Edges: edgeDefs},
		TriggerData: json.RawMessage(trigger),
	})
	if err != nil {
		t.Fatalf("marshal start input: %v", err)
	}

	return &types.HistoryEvent{
		EventID:   1,
		EventType: types.EventTypeExecutionStarted,
		Attributes: &types.ExecutionStartedAttributes{
			WorkflowType: "test",
			Input:        input,
		},
	}
}

type graphNode struct {
	id       string
	nodeType string
	onError  string
}

type graphEdge struct {
	source       string
	target       string
	sourceHandle string
}

func completedEvent(id int64, nodeID string, result string) *types.HistoryEvent {
	return &types.HistoryEvent{
		EventID:   id,
		EventType: types.EventTypeNodeCompleted,
		Attributes: &types.NodeCompletedAttributes{
			NodeID: nodeID,
			Result: json.RawMessage(result),
		},
	}
}

func failedEvent(id int64, nodeID, reason string) *types.HistoryEvent {
	return &types.HistoryEvent{
		EventID:   id,
		EventType: types.EventTypeNodeFailed,
		Attributes: &types.NodeFailedAttributes{
			NodeID: nodeID,
			Reason: reason,
		},
	}
}

func TestDecide_NoHistory(t *testing.T) {
	_, err := Decide(nil)
	if err != ErrNoStartEvent {
		t.Errorf("err = %v, want ErrNoStartEvent", err)
	}
}

func TestDecide_SingleEntrySchedulesFirstNode(t *testing.T) {
	history := []*types.HistoryEvent{
		startEvent(t, []graphNode{{id: "a", nodeType: "http_request"}}, nil, `{"x":1}`),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 {
		t.Fatalf("len(commands) = %d, want 1", len(commands))
	}
	if commands[0].Kind != ScheduleActivityTask || commands[0].NodeID != "a" {
		t.Errorf("commands[0] = %+v, want ScheduleActivityTask for node a", commands[0])
	}
	if string(commands[0].Input) != `{"x":1}` {
		t.Errorf("input = %s, want trigger data", commands[0].Input)
	}
}

func TestDecide_SchedulesDownstreamAfterCompletion(t *testing.T) {
	nodes := []graphNode{{id: "a", nodeType: "manual"}, {id: "b", nodeType: "manual"}}
	edges := []graphEdge{{source: "a", target: "b"}}

	history := []*types.HistoryEvent{
		startEvent(t, nodes, edges, `{}`),
		completedEvent(2, "a", `{"v":1}`),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 || commands[0].NodeID != "b" {
		t.Fatalf("commands = %+v, want single command scheduling b", commands)
	}
	if string(commands[0].Input) != `{"v":1}` {
		t.Errorf("input = %s, want upstream output passthrough", commands[0].Input)
	}
}

func TestDecide_CompletesWhenAllNodesTerminal(t *testing.T) {
	nodes := []graphNode{{id: "a", nodeType: "manual"}}
	history := []*types.HistoryEvent{
		startEvent(t, nodes, nil, `{}`),
		completedEvent(2, "a", `{"done":true}`),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 || commands[0].Kind != CompleteWorkflowExecution {
		t.Fatalf("commands = %+v, want CompleteWorkflowExecution", commands)
	}
	if commands[0].Status != "completed" {
		t.Errorf("status = %q, want completed", commands[0].Status)
	}
}

func TestDecide_StopOnErrorFailsWorkflowImmediately(t *testing.T) {
	nodes := []graphNode{
		{id: "a", nodeType: "manual", onError: "stop"},
		{id: "b", nodeType: "manual"},
	}
	edges := []graphEdge{{source: "a", target: "b"}}

	history := []*types.HistoryEvent{
		startEvent(t, nodes, edges, `{}`),
		failedEvent(2, "a", "boom"),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 || commands[0].Kind != FailWorkflowExecution {
		t.Fatalf("commands = %+v, want FailWorkflowExecution", commands)
	}
}

func TestDecide_ContinueOnErrorSkipsDownstreamOnly(t *testing.T) {
	nodes := []graphNode{
		{id: "a", nodeType: "manual", onError: "continue"},
		{id: "b", nodeType: "manual"}, // downstream of a, should be skipped
		{id: "c", nodeType: "manual"}, // independent entry, should still run
	}
	edges := []graphEdge{{source: "a", target: "b"}}

	history := []*types.HistoryEvent{
		startEvent(t, nodes, edges, `{}`),
		failedEvent(2, "a", "boom"),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 || commands[0].NodeID != "c" {
		t.Fatalf("commands = %+v, want single command scheduling independent entry c", commands)
	}
}

func TestDecide_ConditionBranchSkipsUnmatchedPath(t *testing.T) {
	nodes := []graphNode{
		{id: "cond", nodeType: "condition"},
		{id: "yes", nodeType: "manual"},
		{id: "no", nodeType: "manual"},
	}
	edges := []graphEdge{
		{source: "cond", target: "yes", sourceHandle: "true"},
		{source: "cond", target: "no", sourceHandle: "false"},
	}

	history := []*types.HistoryEvent{
		startEvent(t, nodes, edges, `{}`),
		completedEvent(2, "cond", `{"output":"true"}`),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 || commands[0].NodeID != "yes" {
		t.Fatalf("commands = %+v, want only the matched branch scheduled", commands)
	}
}

func TestDecide_DeterministicAcrossRepeatedCalls(t *testing.T) {
	nodes := []graphNode{{id: "a", nodeType: "manual"}, {id: "b", nodeType: "manual"}}
	edges := []graphEdge{{source: "a", target: "b"}}
	history := []*types.HistoryEvent{
		startEvent(t, nodes, edges, `{}`),
		completedEvent(2, "a", `{}`),
	}

	first, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	second, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("first and second decisions differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].NodeID != second[i].NodeID || first[i].Kind != second[i].Kind {
			t.Errorf("decision %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDecide_MergesMultipleUpstreamOutputsBySourceID(t *testing.T) {
	nodes := []graphNode{
		{id: "a", nodeType: "manual"},
		{id: "b", nodeType: "manual"},
		{id: "merge", nodeType: "manual"},
	}
	edges := []graphEdge{
		{source: "a", target: "merge"},
		{source: "b", target: "merge"},
	}

	history := []*types.HistoryEvent{
		startEvent(t, nodes, edges, `{}`),
		completedEvent(2, "a", `{"from":"a"}`),
		completedEvent(3, "b", `{"from":"b"}`),
	}

	commands, err := Decide(history)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(commands) != 1 || commands[0].NodeID != "merge" {
		t.Fatalf("commands = %+v, want single command scheduling merge", commands)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(commands[0].Input, &merged); err != nil {
		t.Fatalf("unmarshal merged input: %v", err)
	}
	if string(merged["a"]) != `{"from":"a"}` || string(merged["b"]) != `{"from":"b"}` {
		t.Errorf("merged input = %+v, want keyed by source node id", merged)
	}
}
