package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkflow/engine/internal/sandbox"
)

// ScriptExecutor handles action_script nodes: short inline expressions run
// through the same process-isolated sandbox as "code" nodes, under a
// different node type, with passthrough when no script body is given, and
// with javascript as the default language and a 10s default timeout.
type ScriptExecutor struct {
	sandbox *sandbox.Sandbox
}

// NewScriptExecutor creates a new script executor.
func NewScriptExecutor(sb *sandbox.Sandbox) *ScriptExecutor {
	return &ScriptExecutor{sandbox: sb}
}

func (e *ScriptExecutor) NodeType() string {
	return "action_script"
}

func (e *ScriptExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	start := time.Now()
	logs := make([]LogEntry, 0)

	logs = append(logs, LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Message:   fmt.Sprintf("executing script node %s", req.NodeID),
	})

	// Parse script configuration
	var config struct {
		Code     string `json:"code"`
		Language string `json:"language"`
		Timeout  int    `json:"timeout"` // seconds
	}

	if err := json.Unmarshal(req.Config, &config); err != nil || config.Code == "" {
		// No script body configured - treat as passthrough.
		logs = append(logs, LogEntry{
			Timestamp: time.Now(),
			Level:     "warn",
			Message:   "no script configuration provided, passing input through",
		})

		return &ExecuteResponse{
			Output:   req.Input,
			Logs:     logs,
			Duration: time.Since(start),
		}, nil
	}

	if e.sandbox == nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: "script execution sandbox is not configured",
				Type:    ErrorTypeNonRetryable,
			},
			Logs:     logs,
			Duration: time.Since(start),
		}, nil
	}

	// Parse input data
	var inputData map[string]interface{}
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &inputData); err != nil {
			inputData = make(map[string]interface{})
		}
	} else {
		inputData = make(map[string]interface{})
	}

	if config.Language == "" {
		config.Language = "javascript"
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	logs = append(logs, LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Message:   fmt.Sprintf("script language: %s, code length: %d chars", config.Language, len(config.Code)),
	})

	result, err := e.sandbox.Execute(ctx, &sandbox.ExecutionRequest{
		Code:     config.Code,
		Language: config.Language,
		Input:    inputData,
		Timeout:  timeout,
	})
	if err != nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: fmt.Sprintf("sandbox execution failed: %v", err),
				Type:    ErrorTypeRetryable,
			},
			Logs:     logs,
			Duration: time.Since(start),
		}, nil
	}

	output, err := json.Marshal(result.Output)
	if err != nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: fmt.Sprintf("failed to marshal output: %v", err),
				Type:    ErrorTypeNonRetryable,
			},
			Logs:     logs,
			Duration: time.Since(start),
		}, nil
	}

	logs = append(logs, LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Message:   "script execution completed successfully",
	})

	return &ExecuteResponse{
		Output:   output,
		Logs:     logs,
		Duration: time.Since(start),
	}, nil
}
