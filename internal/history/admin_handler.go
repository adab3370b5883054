package history

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/linkflow/engine/internal/history/replay"
	"github.com/linkflow/engine/internal/history/types"
)

// AdminHandler exposes out-of-band diagnostics over HTTP: replaying an
// execution's event history through the same MutableState.ApplyEvent path
// the primary RPC surface uses, and comparing the result against the stored
// state. This is the disaster-recovery/cross-region-replication side of
// history - never on the hot path of a running execution.
type AdminHandler struct {
	replayer *replay.Replayer
	logger   *slog.Logger
}

// NewAdminHandler builds an AdminHandler over the same event and state
// stores the primary Service reads from.
func NewAdminHandler(eventStore EventStore, stateStore MutableStateStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		replayer: replay.NewReplayer(eventStore, stateStore, logger),
		logger:   logger,
	}
}

// RegisterRoutes wires the admin diagnostics endpoints into mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/admin/executions/{namespaceId}/{workflowId}/{runId}/replay", h.replayExecution)
	mux.HandleFunc("GET /api/v1/admin/executions/{namespaceId}/{workflowId}/{runId}/compare", h.compareExecution)
	mux.HandleFunc("GET /api/v1/admin/executions/{namespaceId}/{workflowId}/{runId}/integrity", h.verifyIntegrity)
}

func (h *AdminHandler) key(r *http.Request) types.ExecutionKey {
	return types.ExecutionKey{
		NamespaceID: r.PathValue("namespaceId"),
		WorkflowID:  r.PathValue("workflowId"),
		RunID:       r.PathValue("runId"),
	}
}

func (h *AdminHandler) replayExecution(w http.ResponseWriter, r *http.Request) {
	key := h.key(r)

	result, err := h.replayer.Replay(r.Context(), key, 1<<30)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution_id":    result.ExecutionID,
		"events_replayed": result.EventsReplayed,
		"duration_ms":     result.Duration.Milliseconds(),
		"errors":          result.Errors,
	})
}

func (h *AdminHandler) compareExecution(w http.ResponseWriter, r *http.Request) {
	key := h.key(r)

	result, err := h.replayer.Compare(r.Context(), key)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	key := h.key(r)

	if err := h.replayer.ValidateHistoryIntegrity(r.Context(), key); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *AdminHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
