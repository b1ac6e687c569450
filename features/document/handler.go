package document

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
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// List returns the caller's documents. Without auth the owner comes from the
// owner_id query parameter.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, err := middleware.ResolveOwner(ctx, r.URL.Query().Get("owner_id"))
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}

	docs, err := h.repo.ListByOwner(ctx, owner)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	})
}

// Get looks a document up by key. Keys contain slashes, so the route passes
// it as the trailing wildcard.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, err := middleware.ResolveOwner(ctx, r.URL.Query().Get("owner_id"))
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}

	d, err := h.repo.Get(ctx, owner, r.PathValue("key"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to get document", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": d})
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
