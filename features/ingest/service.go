package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ragline/internal/config"
	"ragline/internal/middleware"
	"ragline/internal/worker"
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Service announces completed uploads to the ingestion workers.
type Service struct {
	pub Publisher
	now func() time.Time
}

func NewService(pub Publisher) *Service {
	return &Service{pub: pub, now: time.Now}
}

// Enqueue validates job, fills in the upload time and correlation id when
// missing, and publishes it.
func (s *Service) Enqueue(ctx context.Context, job worker.IngestionJob) (worker.IngestionJob, error) {
	if err := job.Validate(); err != nil {
		return job, err
	}
	if job.UploadedAt.IsZero() {
		job.UploadedAt = s.now().UTC()
	}
	if job.CorrelationID == "" {
		job.CorrelationID = middleware.GetCorrelationID(ctx)
	}
	if job.CorrelationID == "unknown" {
		job.CorrelationID = uuid.New().String()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return job, err
	}
	if err := s.pub.Publish(config.TopicIngestDocument, body); err != nil {
		return job, fmt.Errorf("publish ingestion job: %w", err)
	}

	slog.InfoContext(ctx, "ingestion job enqueued", "document_key", job.DocumentKey, "owner_id", job.OwnerID)
	return job, nil
}
