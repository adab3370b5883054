package edge

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPHandler exposes the edge Engine to on-prem workers over HTTP, the
// same way Frontend exposes the central engine.
type HTTPHandler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHTTPHandler(engine *Engine, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{engine: engine, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/edge/workflows/execute", h.StartExecution)
	mux.HandleFunc("GET /api/v1/edge/executions/{execution_id}", h.GetExecution)
	mux.HandleFunc("POST /api/v1/edge/executions/{execution_id}/complete", h.CompleteExecution)
	mux.HandleFunc("POST /api/v1/edge/executions/{execution_id}/fail", h.FailExecution)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
}

type startExecutionRequest struct {
	NamespaceID string                 `json:"namespace_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Input       map[string]interface{} `json:"input"`
}

func (h *HTTPHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NamespaceID == "" || req.WorkflowID == "" {
		h.writeError(w, http.StatusBadRequest, "namespace_id and workflow_id are required")
		return
	}

	input, _ := json.Marshal(req.Input)

	exec, err := h.engine.StartExecution(ctx, req.NamespaceID, req.WorkflowID, input)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, exec)
}

func (h *HTTPHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.GetExecution(r.Context(), r.PathValue("execution_id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	h.writeJSON(w, http.StatusOK, exec)
}

func (h *HTTPHandler) CompleteExecution(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Output map[string]interface{} `json:"output"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	output, _ := json.Marshal(body.Output)
	if err := h.engine.CompleteExecution(r.Context(), r.PathValue("execution_id"), output); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (h *HTTPHandler) FailExecution(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.FailExecution(r.Context(), r.PathValue("execution_id"), body.Reason); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "mode": h.engine.GetMode().String()})
}

func (h *HTTPHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
