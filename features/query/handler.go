package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"ragline/internal/middleware"
	"ragline/internal/retrieval"
)

type Asker interface {
	Ask(ctx context.Context, req retrieval.Request) (*retrieval.Answer, error)
}

type Handler struct {
	asker Asker
}

func NewHandler(a Asker) *Handler {
	return &Handler{asker: a}
}

type Response struct {
	Response        string   `json:"response"`
	UserID          string   `json:"userId"`
	Partial         bool     `json:"partial"`
	Hits            int      `json:"hits"`
	FailedDocuments []string `json:"failedDocuments,omitempty"`
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	owner, err := middleware.ResolveOwner(ctx, req.OwnerID)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "owner_id is required", http.StatusBadRequest)
		return
	}
	req.OwnerID = owner

	ans, err := h.asker.Ask(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrInvalidRequest):
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		case errors.Is(err, retrieval.ErrAllSearchesFailed):
			slog.ErrorContext(ctx, "no answer could be produced", "error", err)
			h.writeError(ctx, w, "NO_ANSWER", "no answer could be produced", http.StatusBadGateway)
		case errors.Is(err, context.DeadlineExceeded):
			h.writeError(ctx, w, "TIMEOUT", "query timed out", http.StatusGatewayTimeout)
		default:
			slog.ErrorContext(ctx, "query failed", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	resp := Response{
		Response: ans.Text,
		UserID:   ans.OwnerID,
		Partial:  ans.Partial != nil,
		Hits:     len(ans.Hits),
	}
	if ans.Partial != nil {
		for k := range ans.Partial.Failed {
			resp.FailedDocuments = append(resp.FailedDocuments, k)
		}
		sort.Strings(resp.FailedDocuments)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
