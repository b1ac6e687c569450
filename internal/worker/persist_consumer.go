package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"ragline/features/document"
	"ragline/internal/middleware"
)

// PersistConsumer records each indexed document. Upserts are keyed by
// document so a redelivered job rewrites the same row.
type PersistConsumer struct {
	docs DocumentStore
}

func NewPersistConsumer(docs DocumentStore) *PersistConsumer {
	return &PersistConsumer{docs: docs}
}

func (h *PersistConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var job PersistenceJob
	if err := json.Unmarshal(m.Body, &job); err != nil {
		slog.Error("poison pill: invalid persistence job", "error", err)
		return nil
	}
	if job.DocumentKey == "" || job.OwnerID == "" {
		slog.Error("poison pill: persistence job without document or owner", "document_key", job.DocumentKey)
		return nil
	}

	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithDocumentKey(ctx, job.DocumentKey)

	doc := &document.Document{
		DocumentKey: job.DocumentKey,
		OwnerID:     job.OwnerID,
		FileName:    job.FileName,
		FileType:    job.FileType,
		Size:        job.Size,
		ChunkCount:  job.ChunkCount,
		TextLength:  job.TotalTextLength,
	}
	if err := h.docs.Upsert(ctx, doc); err != nil {
		if errors.Is(err, document.ErrOwnerConflict) {
			slog.ErrorContext(ctx, "document key recorded for another owner, dropping job", "owner_id", job.OwnerID)
			return nil
		}
		slog.ErrorContext(ctx, "failed to record document", "error", err)
		return err
	}

	slog.InfoContext(ctx, "document recorded", "chunks", job.ChunkCount)
	return nil
}
