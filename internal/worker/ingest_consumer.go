package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"ragline/features/deadletter"
	"ragline/internal/config"
	"ragline/internal/metrics"
	"ragline/internal/middleware"
)

type Runner interface {
	Run(ctx context.Context, job IngestionJob) (*PersistenceJob, error)
}

// IngestConsumer handles messages on the ingestion topic. Returning an error
// requeues the message; returning nil acks it, including after the job has
// been dead-lettered.
type IngestConsumer struct {
	runner      Runner
	deadLetters DeadLetterSaver
	maxAttempts uint16
	jobTimeout  time.Duration
	metrics     *metrics.Metrics
}

func NewIngestConsumer(r Runner, dl DeadLetterSaver, maxAttempts uint16, jobTimeout time.Duration, m *metrics.Metrics) *IngestConsumer {
	return &IngestConsumer{
		runner:      r,
		deadLetters: dl,
		maxAttempts: maxAttempts,
		jobTimeout:  jobTimeout,
		metrics:     m,
	}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	start := time.Now()

	var job IngestionJob
	err := json.Unmarshal(m.Body, &job)
	if err == nil {
		err = job.Validate()
	}

	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
		job.CorrelationID = correlationID
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithDocumentKey(ctx, job.DocumentKey)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid ingestion job", "error", err)
		return h.deadLetter(ctx, m, job, ReasonInvalidPayload, err, start)
	}

	runCtx := ctx
	if h.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.jobTimeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "ingestion started", "owner_id", job.OwnerID, "attempt", m.Attempts)

	pj, err := h.runner.Run(runCtx, job)
	if err == nil {
		slog.InfoContext(ctx, "document ingested", "chunks", pj.ChunkCount, "file_type", pj.FileType, "duration", time.Since(start))
		h.metrics.JobFinished(string(StateDone), time.Since(start))
		return nil
	}

	var jerr *JobError
	if !errors.As(err, &jerr) {
		jerr = fail(ReasonTransientIO, StateReceived, err)
	}

	if jerr.Retryable() && m.Attempts < h.maxAttempts {
		slog.WarnContext(ctx, "ingestion failed, requeueing", "reason", jerr.Reason, "state", jerr.State, "attempt", m.Attempts, "max_attempts", h.maxAttempts, "error", jerr.Err)
		h.metrics.JobFinished("requeued", time.Since(start))
		return jerr
	}

	slog.ErrorContext(ctx, "ingestion failed", "reason", jerr.Reason, "state", jerr.State, "attempt", m.Attempts, "error", jerr.Err)
	return h.deadLetter(ctx, m, job, jerr.Reason, jerr, start)
}

// LogFailedMessage is called by go-nsq when a message exceeded MaxAttempts
// without being dead-lettered, which only happens if the dead-letter store
// itself kept failing.
func (h *IngestConsumer) LogFailedMessage(m *nsq.Message) {
	slog.Error("ingestion message dropped after max attempts", "message_id", string(m.ID[:]), "attempts", m.Attempts, "body", string(m.Body))
	h.metrics.DeadLettered("dropped")
}

func (h *IngestConsumer) deadLetter(ctx context.Context, m *nsq.Message, job IngestionJob, reason FailureReason, cause error, start time.Time) error {
	payload := json.RawMessage(m.Body)
	if !json.Valid(m.Body) {
		payload, _ = json.Marshal(string(m.Body))
	}

	letter := &deadletter.Letter{
		Topic:       config.TopicIngestDocument,
		DocumentKey: job.DocumentKey,
		OwnerID:     job.OwnerID,
		Reason:      string(reason),
		Error:       cause.Error(),
		Attempts:    int(m.Attempts),
		Payload:     payload,
	}
	if err := h.deadLetters.Save(ctx, letter); err != nil {
		slog.ErrorContext(ctx, "failed to save dead letter", "reason", reason, "error", err)
		return fmt.Errorf("save dead letter: %w", err)
	}

	slog.InfoContext(ctx, "job dead-lettered", "id", letter.ID, "reason", reason)
	h.metrics.DeadLettered(string(reason))
	h.metrics.JobFinished(string(StateFailed), time.Since(start))
	return nil
}
