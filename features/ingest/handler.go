package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ragline/internal/middleware"
	"ragline/internal/worker"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Enqueue is the upload-complete hook. With auth enabled the owner is the
// token subject and any owner_id in the body is ignored.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var job worker.IngestionJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	owner, err := middleware.ResolveOwner(ctx, job.OwnerID)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}
	job.OwnerID = owner
	job.CorrelationID = ""

	job, err = h.service.Enqueue(ctx, job)
	if err != nil {
		if errors.Is(err, worker.ErrInvalidJob) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to enqueue ingestion job", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to enqueue job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": job}); err != nil {
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
