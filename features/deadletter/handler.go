package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragline/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	letters, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list dead letters", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if letters == nil {
		letters = []Letter{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": letters,
		"meta": map[string]int{"count": len(letters)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	l, err := h.service.Get(ctx, id)
	if err != nil {
		h.failLookup(ctx, w, id, "get", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": l})
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	slog.InfoContext(ctx, "retrying dead letter", "id", id)

	if err := h.service.Retry(ctx, id); err != nil {
		if errors.Is(err, ErrPublishTimeout) {
			h.writeError(ctx, w, "UPSTREAM_TIMEOUT", err.Error(), http.StatusGatewayTimeout)
			return
		}
		h.failLookup(ctx, w, id, "retry", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": "dead letter requeued"})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.service.Delete(ctx, id); err != nil {
		h.failLookup(ctx, w, id, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) failLookup(ctx context.Context, w http.ResponseWriter, id, op string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(ctx, w, "NOT_FOUND", "Dead letter not found", http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, "dead letter operation failed", "op", op, "id", id, "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
