package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPCentralClient implements CentralClient against Frontend's HTTP API —
// the same surface Laravel drives for ordinary workflow execution, reused
// here for the Edge proxy's sync and heartbeat traffic.
type HTTPCentralClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPCentralClient creates a client against a Frontend instance's HTTP
// address (e.g. "http://frontend:8080").
func NewHTTPCentralClient(baseURL string, timeout time.Duration) *HTTPCentralClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPCentralClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type edgeSyncEventPayload struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type edgeSyncRequest struct {
	ExecutionID string                 `json:"execution_id"`
	NamespaceID string                 `json:"namespace_id"`
	WorkflowID  string                 `json:"workflow_id"`
	RunID       string                 `json:"run_id"`
	Status      string                 `json:"status"`
	Input       json.RawMessage        `json:"input,omitempty"`
	Output      json.RawMessage        `json:"output,omitempty"`
	Events      []edgeSyncEventPayload `json:"events,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time,omitempty"`
	Version     int64                  `json:"version"`
}

// SyncExecution pushes a locally-run execution to central Frontend so its
// history is durable beyond the edge's local store.
func (c *HTTPCentralClient) SyncExecution(ctx context.Context, exec *EdgeExecution) error {
	events := make([]edgeSyncEventPayload, 0, len(exec.Events))
	for _, ev := range exec.Events {
		events = append(events, edgeSyncEventPayload{
			Type:      ev.Type,
			Timestamp: ev.Timestamp,
			Data:      ev.Data,
		})
	}

	body := edgeSyncRequest{
		ExecutionID: exec.ID,
		NamespaceID: exec.NamespaceID,
		WorkflowID:  exec.WorkflowID,
		RunID:       exec.RunID,
		Status:      exec.Status.String(),
		Input:       exec.Input,
		Output:      exec.Output,
		Events:      events,
		StartTime:   exec.StartTime,
		EndTime:     exec.EndTime,
		Version:     exec.Version,
	}

	return c.post(ctx, "/api/v1/edge/sync", body)
}

// GetWorkflowDefinition fetches a workflow's definition from central. This
// deployment's Frontend does not itself own workflow definitions (they're
// authored externally), so this always returns an error; it exists to
// satisfy CentralClient for deployments that front an API which does serve
// definitions.
func (c *HTTPCentralClient) GetWorkflowDefinition(ctx context.Context, namespaceID, workflowID string) (json.RawMessage, error) {
	return nil, fmt.Errorf("workflow definitions are not served by this central endpoint; rely on the local cache for %s/%s", namespaceID, workflowID)
}

// SendHeartbeat reports this Edge instance as alive to central.
func (c *HTTPCentralClient) SendHeartbeat(ctx context.Context, edgeID string) error {
	return c.post(ctx, "/api/v1/edge/heartbeat", map[string]string{"edge_id": edgeID})
}

func (c *HTTPCentralClient) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("central request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("central request to %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
