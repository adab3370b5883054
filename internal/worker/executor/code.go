package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkflow/engine/internal/sandbox"
)

// CodeExecutor runs "code" nodes through the process-isolated sandbox
// (Node.js/Python/Bash runtimes, container runtime available for stricter
// isolation). Without a sandbox it degrades to a non-retryable error rather
// than silently running untrusted code inline.
type CodeExecutor struct {
	sandbox *sandbox.Sandbox
}

func NewCodeExecutor(sb *sandbox.Sandbox) *CodeExecutor {
	return &CodeExecutor{sandbox: sb}
}

func (e *CodeExecutor) NodeType() string {
	return "code"
}

func (e *CodeExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	start := time.Now()

	if e.sandbox == nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: "code execution sandbox is not configured",
				Type:    ErrorTypeNonRetryable,
			},
			Duration: time.Since(start),
		}, nil
	}

	var config struct {
		Code     string `json:"code"`
		Language string `json:"language"`
		Timeout  int    `json:"timeout"` // seconds
	}
	if err := json.Unmarshal(req.Config, &config); err != nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: fmt.Sprintf("failed to parse code config: %v", err),
				Type:    ErrorTypeNonRetryable,
			},
			Duration: time.Since(start),
		}, nil
	}

	var inputData map[string]interface{}
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &inputData); err != nil {
			inputData = make(map[string]interface{})
		}
	} else {
		inputData = make(map[string]interface{})
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

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
			Duration: time.Since(start),
		}, nil
	}

	output, err := json.Marshal(result.Output)
	if err != nil {
		return &ExecuteResponse{
			Error: &ExecutionError{
				Message: fmt.Sprintf("failed to marshal sandbox output: %v", err),
				Type:    ErrorTypeNonRetryable,
			},
			Duration: time.Since(start),
		}, nil
	}

	logs := []LogEntry{{Timestamp: time.Now(), Level: "info", Message: fmt.Sprintf("code node %s ran %s in %s", req.NodeID, config.Language, result.Duration)}}
	if result.Stderr != "" {
		logs = append(logs, LogEntry{Timestamp: time.Now(), Level: "warn", Message: result.Stderr})
	}

	return &ExecuteResponse{
		Output:   output,
		Logs:     logs,
		Duration: time.Since(start),
	}, nil
}
