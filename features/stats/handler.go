package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ragline/internal/middleware"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	documents   Counter
	deadLetters Counter
}

func NewHandler(documents, deadLetters Counter) *Handler {
	return &Handler{documents: documents, deadLetters: deadLetters}
}

type StatsResponse struct {
	Documents   int `json:"documents"`
	DeadLetters int `json:"dead_letters"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dCount, err := h.documents.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	lCount, err := h.deadLetters.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count dead letters", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count dead letters", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Documents: dCount, DeadLetters: lCount}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
