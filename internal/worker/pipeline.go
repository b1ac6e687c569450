package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragline/internal/blob"
	"ragline/internal/config"
	"ragline/internal/llm"
	"ragline/internal/loader"
	"ragline/internal/metrics"
	"ragline/internal/retry"
	"ragline/internal/sniff"
	"ragline/internal/text"
	"ragline/internal/vector"
)

var errEmbeddingCount = errors.New("embedder returned a different number of vectors")

type PipelineConfig struct {
	FetchPolicy      retry.Policy
	UpsertPolicy     retry.Policy
	BatchTokenBudget int
	// BatchMaxItems caps texts per embedding request.
	BatchMaxItems int
	Metrics          *metrics.Metrics
	// Now stamps chunks of jobs published without an upload time.
	Now func() time.Time
}

// Pipeline turns one IngestionJob into indexed chunks and a PersistenceJob.
type Pipeline struct {
	blobs     blob.Store
	splitter  *text.Splitter
	embedder  llm.Embedder
	index     vector.Index
	publisher Publisher
	cfg       PipelineConfig
}

func NewPipeline(blobs blob.Store, splitter *text.Splitter, embedder llm.Embedder, index vector.Index, publisher Publisher, cfg PipelineConfig) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		blobs:     blobs,
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run drives job through the state machine. The PersistenceJob is published
// only after every batch has been upserted; a non-nil error is always a
// *JobError.
func (p *Pipeline) Run(ctx context.Context, job IngestionJob) (*PersistenceJob, error) {
	state := StateReceived
	advance := func(next State, attrs ...any) {
		slog.DebugContext(ctx, "ingestion state changed", append([]any{"from", state, "to", next}, attrs...)...)
		state = next
	}

	data, err := p.fetch(ctx, job.DocumentKey)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fail(ReasonTransientIO, state, err)
		}
		return nil, fail(ReasonNotFound, state, err)
	}
	advance(StateDownloaded, "bytes", len(data))

	format := sniff.Sniff(data, job.DocumentKey)
	if !loader.Supports(format) {
		return nil, fail(ReasonUnsupportedType, state, fmt.Errorf("%w: %s", loader.ErrUnsupported, format))
	}
	advance(StateTyped, "format", format)

	segments, err := loader.Load(format, data)
	if err != nil {
		if errors.Is(err, loader.ErrUnsupported) {
			return nil, fail(ReasonUnsupportedType, state, err)
		}
		return nil, fail(ReasonParseError, state, err)
	}
	advance(StateLoaded, "segments", len(segments))

	chunks := p.splitter.Split(segments)
	if len(chunks) == 0 {
		return nil, fail(ReasonParseError, state, loader.ErrNoText)
	}
	advance(StateChunked, "chunks", len(chunks))

	uploaded := job.UploadedAt
	if uploaded.IsZero() {
		uploaded = p.cfg.Now()
	}
	meta := vector.Metadata{
		OwnerID:     job.OwnerID,
		DocumentKey: job.DocumentKey,
		FileType:    format.MIME(),
		FileName:    job.FileName,
		UploadDate:  uploaded.UTC(),
	}

	var batchErr *JobError
	batcher := NewBatcher(p.cfg.BatchTokenBudget, p.cfg.BatchMaxItems, func(ctx context.Context, b Batch) error {
		if jerr := p.writeBatch(ctx, meta, b); jerr != nil {
			batchErr = jerr
			return jerr
		}
		return nil
	})
	textLength := 0
	for _, c := range chunks {
		textLength += len(c.Text)
		if err := batcher.Add(ctx, c); err != nil {
			batchErr.State = state
			return nil, batchErr
		}
	}
	if err := batcher.Flush(ctx); err != nil {
		batchErr.State = state
		return nil, batchErr
	}
	advance(StateEmbedded)

	pj := &PersistenceJob{
		DocumentKey:     job.DocumentKey,
		OwnerID:         job.OwnerID,
		FileName:        job.FileName,
		FileType:        format.MIME(),
		Size:            job.Size,
		ChunkCount:      len(chunks),
		TotalTextLength: textLength,
		CorrelationID:   job.CorrelationID,
	}
	body, err := json.Marshal(pj)
	if err != nil {
		return nil, fail(ReasonPersistEmit, state, err)
	}
	if err := p.publisher.Publish(config.TopicPersistDocument, body); err != nil {
		return nil, fail(ReasonPersistEmit, state, err)
	}
	advance(StatePersistQueued)
	advance(StateDone)

	return pj, nil
}

func (p *Pipeline) fetch(ctx context.Context, key string) ([]byte, error) {
	policy := p.cfg.FetchPolicy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.cfg.Metrics.Retried("fetch")
		slog.WarnContext(ctx, "blob fetch failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	var data []byte
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		data, err = p.blobs.Fetch(ctx, key)
		return err
	}, blob.IsRetryable)
	return data, err
}

// writeBatch embeds and upserts one batch. Batches already written stay in
// the index if a later one fails.
func (p *Pipeline) writeBatch(ctx context.Context, meta vector.Metadata, b Batch) *JobError {
	texts := make([]string, len(b.Chunks))
	for i, c := range b.Chunks {
		texts[i] = c.Text
	}

	policy := p.cfg.UpsertPolicy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.cfg.Metrics.Retried("upsert")
		slog.WarnContext(ctx, "batch write failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	var vectors [][]float32
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		vectors, err = p.embedder.EmbedDocuments(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d for %d texts", errEmbeddingCount, len(vectors), len(texts))
		}
		return err
	}, retry.Always)
	if err != nil {
		return fail(ReasonTransientIO, "", fmt.Errorf("embed batch of %d chunks: %w", len(texts), err))
	}

	records := make([]vector.Record, len(b.Chunks))
	for i, c := range b.Chunks {
		m := meta
		m.SourceLabel = c.Label
		m.Sequence = c.Sequence
		records[i] = vector.Record{
			ID:       vector.ChunkID(meta.DocumentKey, c.Sequence),
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: m,
		}
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		return p.index.Upsert(ctx, records)
	}, retry.Always)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ReasonTransientIO, "", err)
		}
		return fail(ReasonIndexWrite, "", fmt.Errorf("upsert batch of %d chunks: %w", len(records), err))
	}

	p.cfg.Metrics.BatchUpserted(len(records))
	slog.DebugContext(ctx, "batch upserted", "chunks", len(records), "tokens", b.Tokens, "first_sequence", b.Chunks[0].Sequence)
	return nil
}
