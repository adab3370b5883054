// Package decider implements the workflow decider: a pure function from
// one execution's complete event history to the next batch of Commands.
//
// No wall-clock reads, no randomness, no I/O, no goroutines. The same
// history bytes must produce the same Commands on every call, on every
// process, on every OS thread — that determinism is what lets a decision
// round restart after a storage conflict (see internal/history/engine)
// without side effects, and what lets deterministic-replay mode (capture
// -> replay with recorded fixtures) reproduce a run exactly.
//
// History replay cost is O(history length) on every round. Past roughly
// five hundred events a single decision round starts to show up in worker
// CPU profiles; this package intentionally does not cache decoded state
// across rounds (see DESIGN.md, "History compaction / sticky cache").
package decider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/linkflow/engine/internal/execution/graph"
	"github.com/linkflow/engine/internal/history/types"
)

var (
	// ErrNoStartEvent is returned when history does not begin with an
	// ExecutionStarted event.
	ErrNoStartEvent = errors.New("decider: history does not start with ExecutionStarted")
	// ErrMalformedInput is returned when ExecutionStarted's input cannot
	// be parsed into a workflow graph.
	ErrMalformedInput = errors.New("decider: malformed ExecutionStarted input")
)

// NodeStatus is the decider's view of one node, rebuilt fresh from history
// on every call.
type NodeStatus int

const (
	StatusUnscheduled NodeStatus = iota
	StatusScheduled
	StatusCompleted
	StatusFailed
	StatusSkipped
	// StatusAwaitingTimer marks a node whose activity asked to be woken by
	// a timer instead of completing outright (long delay via timer).
	// It behaves like StatusScheduled for frontier/skip purposes: it is
	// neither runnable nor a live source until the timer fires.
	StatusAwaitingTimer
)

func (s NodeStatus) String() string {
	switch s {
	case StatusUnscheduled:
		return "unscheduled"
	case StatusScheduled:
		return "scheduled"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusAwaitingTimer:
		return "awaiting_timer"
	default:
		return "unknown"
	}
}

// timerIDPrefix namespaces node-owned timer IDs so nodeIDForTimer can
// recover the originating node without a side table. Timers started for
// other reasons (none exist yet) would use a different prefix.
const timerIDPrefix = "node-timer:"

func timerIDForNode(nodeID string) string {
	return timerIDPrefix + nodeID
}

func nodeIDForTimer(timerID string) (string, bool) {
	if !strings.HasPrefix(timerID, timerIDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(timerID, timerIDPrefix), true
}

// timerRequest is the marker a node's NodeCompleted result carries when the
// executor wants to resume later via a timer rather than being treated as a
// finished node (internal/worker/executor/delay.go sets these fields on
// long delays rather than blocking a worker goroutine).
type timerRequest struct {
	Requested bool   `json:"timer_requested"`
	ResumeAt  string `json:"resume_at"`
}

func parseTimerRequest(result json.RawMessage) (timerRequest, bool) {
	var tr timerRequest
	if err := json.Unmarshal(result, &tr); err != nil || !tr.Requested {
		return timerRequest{}, false
	}
	return tr, true
}

// CommandKind is the closed set of instructions a decider can hand back to
// History.
type CommandKind int

const (
	ScheduleActivityTask CommandKind = iota
	StartTimer
	CancelTimer
	CompleteWorkflowExecution
	FailWorkflowExecution
)

// Command is one decider output. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	// ScheduleActivityTask
	NodeID   string
	NodeType string
	Input    json.RawMessage
	Config   json.RawMessage

	// StartTimer / CancelTimer
	TimerID  string
	FireTime string // RFC3339, carried from the node's timer request; decider never reads the clock itself

	// Complete/FailWorkflowExecution
	Result  json.RawMessage
	Status  string // "completed" | "partial_failure", CompleteWorkflowExecution only
	Message string // FailWorkflowExecution only
}

// startInput is the subset of ExecutionStarted's input this package reads.
// The full envelope (credentials, variables, callback URLs, ...) belongs to
// Frontend/worker concerns, not to the decider.
type startInput struct {
	Workflow struct {
		Nodes []graph.NodeDef `json:"nodes"`
		Edges []graph.EdgeDef `json:"edges"`
	} `json:"workflow"`
	TriggerData json.RawMessage `json:"trigger_data"`
}

type nodeState struct {
	status  NodeStatus
	output  json.RawMessage
	reason  string
	onError string

	// scheduledInput is the input the node was scheduled with. A timer-fired
	// delay node has no real output of its own, so it resumes the graph by
	// forwarding this unchanged, the same as its short-delay (in-process)
	// path already does.
	scheduledInput json.RawMessage
	// timerFireTime is the RFC3339 resume time requested by the node's
	// pending-timer result, set once and read when emitting StartTimer.
	timerFireTime string
	// timerStarted is true once a TimerStarted event for this node's timer
	// has been observed, so Decide does not re-emit the StartTimer command
	// on every subsequent call while the timer is still pending.
	timerStarted bool
}

// Decide replays history and returns the next batch of Commands. It is
// safe to call repeatedly with a growing history; calling it twice with
// identical history must return identical Commands.
func Decide(history []*types.HistoryEvent) ([]Command, error) {
	if len(history) == 0 || history[0].EventType != types.EventTypeExecutionStarted {
		return nil, ErrNoStartEvent
	}

	g, triggerInput, err := parseGraph(history[0])
	if err != nil {
		return nil, err
	}

	states := initialStates(g)
	scheduledEventByNode := map[string]int64{} // nodeID -> ActivityScheduled event id, for matching completions

	for _, ev := range history {
		switch ev.EventType {
		case types.EventTypeNodeScheduled:
			attrs, ok := ev.Attributes.(*types.NodeScheduledAttributes)
			if !ok {
				continue
			}
			states[attrs.NodeID].status = StatusScheduled
			states[attrs.NodeID].scheduledInput = attrs.Input
			scheduledEventByNode[attrs.NodeID] = ev.EventID
		case types.EventTypeNodeCompleted:
			attrs, ok := ev.Attributes.(*types.NodeCompletedAttributes)
			if !ok {
				continue
			}
			st := states[attrs.NodeID]
			if tr, ok := parseTimerRequest(attrs.Result); ok {
				st.status = StatusAwaitingTimer
				st.timerFireTime = tr.ResumeAt
				continue
			}
			st.status = StatusCompleted
			st.output = attrs.Result
		case types.EventTypeNodeFailed:
			attrs, ok := ev.Attributes.(*types.NodeFailedAttributes)
			if !ok {
				continue
			}
			states[attrs.NodeID].status = StatusFailed
			states[attrs.NodeID].reason = attrs.Reason
		case types.EventTypeTimerStarted:
			attrs, ok := ev.Attributes.(*types.TimerStartedAttributes)
			if !ok {
				continue
			}
			if nodeID, ok := nodeIDForTimer(attrs.TimerID); ok {
				if st, exists := states[nodeID]; exists {
					st.timerStarted = true
				}
			}
		case types.EventTypeTimerFired:
			attrs, ok := ev.Attributes.(*types.TimerFiredAttributes)
			if !ok {
				continue
			}
			if nodeID, ok := nodeIDForTimer(attrs.TimerID); ok {
				if st, exists := states[nodeID]; exists {
					st.status = StatusCompleted
					st.output = st.scheduledInput
				}
			}
		}
	}

	// Entry nodes read trigger data directly, not an upstream node's output.
	for _, entry := range g.EntryNodes {
		if states[entry].status == StatusUnscheduled && len(states[entry].output) == 0 {
			states[entry].output = triggerInput
		}
	}

	propagateSkips(g, states)

	// §4.4 step 3: any onError=stop failure ends the workflow immediately.
	for _, id := range g.DeclaredOrder {
		st := states[id]
		if st.status == StatusFailed && st.onError == "stop" {
			return []Command{{
				Kind:    FailWorkflowExecution,
				Message: fmt.Sprintf("node '%s' failed: %s", id, st.reason),
			}}, nil
		}
	}

	var commands []Command
	for _, id := range g.DeclaredOrder {
		st := states[id]
		if st.status != StatusAwaitingTimer || st.timerStarted {
			continue
		}
		commands = append(commands, Command{
			Kind:     StartTimer,
			NodeID:   id,
			TimerID:  timerIDForNode(id),
			FireTime: st.timerFireTime,
		})
	}

	runnable := frontier(g, states)

	for _, id := range runnable {
		node := g.Nodes[id]
		commands = append(commands, Command{
			Kind:     ScheduleActivityTask,
			NodeID:   id,
			NodeType: node.Type,
			Config:   node.Config,
			Input:    mergeInputs(g, states, id),
		})
	}

	if len(commands) == 0 && allTerminal(g, states) {
		status := "completed"
		for _, st := range states {
			if st.status == StatusFailed {
				status = "partial_failure"
				break
			}
		}
		commands = append(commands, Command{
			Kind:   CompleteWorkflowExecution,
			Status: status,
			Result: collectExitOutputs(g, states),
		})
	}

	return commands, nil
}

func parseGraph(started *types.HistoryEvent) (*graph.DAG, json.RawMessage, error) {
	attrs, ok := started.Attributes.(*types.ExecutionStartedAttributes)
	if !ok {
		return nil, nil, ErrNoStartEvent
	}

	var in startInput
	if err := json.Unmarshal(attrs.Input, &in); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	g, err := graph.BuildDAG(&graph.WorkflowDefinition{
		Nodes: in.Workflow.Nodes,
		Edges: in.Workflow.Edges,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	trigger := in.TriggerData
	if len(trigger) == 0 {
		trigger = json.RawMessage("{}")
	}
	return g, trigger, nil
}

func initialStates(g *graph.DAG) map[string]*nodeState {
	states := make(map[string]*nodeState, len(g.Nodes))
	for id, n := range g.Nodes {
		states[id] = &nodeState{status: StatusUnscheduled, onError: n.OnError}
	}
	return states
}

// propagateSkips marks, transitively, every node reachable only through a
// conditional edge whose source_handle does not match its condition node's
// chosen output, or through a failed onError=continue node.
func propagateSkips(g *graph.DAG, states map[string]*nodeState) {
	changed := true
	for changed {
		changed = false
		for _, id := range g.DeclaredOrder {
			st := states[id]
			if st.status != StatusUnscheduled {
				continue
			}
			if shouldSkip(g, states, id) {
				st.status = StatusSkipped
				changed = true
			}
		}
	}
}

func shouldSkip(g *graph.DAG, states map[string]*nodeState, nodeID string) bool {
	sources := g.ReverseEdges[nodeID]
	if len(sources) == 0 {
		return false
	}
	for _, src := range sources {
		srcState := states[src]
		if srcState.status == StatusSkipped {
			return true
		}
		if srcState.status == StatusFailed && srcState.onError == "continue" {
			return true
		}
		if srcState.status != StatusCompleted {
			continue
		}
		edge := g.GetEdgeInfo(src, nodeID)
		if edge == nil || edge.SourceHandle == "" {
			continue
		}
		if !g.Nodes[src].IsConditionType() {
			continue
		}
		if conditionOutput(srcState.output) != edge.SourceHandle {
			return true
		}
	}
	return false
}

func conditionOutput(output json.RawMessage) string {
	var r struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(output, &r); err != nil {
		return ""
	}
	return r.Output
}

// frontier returns, in declared-order, every node ready to run this round.
func frontier(g *graph.DAG, states map[string]*nodeState) []string {
	var ready []string
	for _, id := range g.DeclaredOrder {
		st := states[id]
		if st.status != StatusUnscheduled {
			continue
		}
		if isEntry(g, id) {
			ready = append(ready, id)
			continue
		}
		if allUpstreamSatisfied(g, states, id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func isEntry(g *graph.DAG, nodeID string) bool {
	for _, e := range g.EntryNodes {
		if e == nodeID {
			return true
		}
	}
	return false
}

func allUpstreamSatisfied(g *graph.DAG, states map[string]*nodeState, nodeID string) bool {
	for _, src := range g.ReverseEdges[nodeID] {
		st := states[src]
		switch st.status {
		case StatusCompleted:
			edge := g.GetEdgeInfo(src, nodeID)
			if edge != nil && edge.SourceHandle != "" && g.Nodes[src].IsConditionType() {
				if conditionOutput(st.output) != edge.SourceHandle {
					return false // a live-but-not-selected branch: never becomes runnable
				}
			}
		case StatusFailed:
			if st.onError != "continue" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// mergeInputs builds the activity input: the single upstream output when
// there is exactly one live incoming edge, otherwise a map keyed by source
// node id (json.Marshal of a map[string]... sorts keys lexically, giving
// the deterministic-by-source-id ordering §4.4 step 5 requires). A node
// with no live incoming edge gets the trigger data Decide placed in its
// state (entry nodes), or {} when there is none.
func mergeInputs(g *graph.DAG, states map[string]*nodeState, nodeID string) json.RawMessage {
	sources := liveSources(g, states, nodeID)
	if len(sources) == 1 {
		return states[sources[0]].output
	}
	if len(sources) == 0 {
		if len(states[nodeID].output) > 0 {
			return states[nodeID].output
		}
		return json.RawMessage("{}")
	}

	merged := make(map[string]json.RawMessage, len(sources))
	for _, src := range sources {
		merged[src] = states[src].output
	}
	out, _ := json.Marshal(merged)
	return out
}

func liveSources(g *graph.DAG, states map[string]*nodeState, nodeID string) []string {
	var live []string
	for _, src := range g.ReverseEdges[nodeID] {
		st := states[src]
		if st.status != StatusCompleted {
			continue
		}
		edge := g.GetEdgeInfo(src, nodeID)
		if edge != nil && edge.SourceHandle != "" && g.Nodes[src].IsConditionType() {
			if conditionOutput(st.output) != edge.SourceHandle {
				continue
			}
		}
		live = append(live, src)
	}
	sort.Strings(live)
	return live
}

func allTerminal(g *graph.DAG, states map[string]*nodeState) bool {
	for _, id := range g.DeclaredOrder {
		switch states[id].status {
		case StatusCompleted, StatusSkipped:
		case StatusFailed:
			if states[id].onError != "continue" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func collectExitOutputs(g *graph.DAG, states map[string]*nodeState) json.RawMessage {
	outputs := make(map[string]json.RawMessage)
	for _, id := range g.ExitNodes {
		st := states[id]
		if st.status == StatusCompleted && len(st.output) > 0 {
			outputs[id] = st.output
		}
	}
	if len(outputs) == 0 {
		return json.RawMessage("{}")
	}
	out, _ := json.Marshal(outputs)
	return compact(out)
}

func compact(b []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return b
	}
	return buf.Bytes()
}
