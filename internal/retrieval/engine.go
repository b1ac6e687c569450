// Package retrieval answers a question from a set of documents by searching
// each document in parallel and grounding one chat completion in the merged
// hits.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"ragline/internal/llm"
	"ragline/internal/metrics"
	"ragline/internal/middleware"
	"ragline/internal/vector"
)

type Config struct {
	// TopK is the number of hits requested from each document.
	TopK int
	// GlobalCap bounds the merged hit list sent to the model.
	GlobalCap int
	// Timeout bounds the whole request, searches and completion together.
	Timeout time.Duration
	// Concurrency is the size of the search worker pool shared by all requests.
	Concurrency int
}

type Answer struct {
	Text    string
	OwnerID string
	Hits    []vector.Hit
	// Partial is set when some, but not all, document searches failed.
	Partial *PartialSearchFailure
}

type Engine struct {
	embedder llm.Embedder
	index    vector.Index
	chat     llm.Chat
	pool     *ants.Pool
	cfg      Config
	log      *QueryLogger
	metrics  *metrics.Metrics
}

func NewEngine(embedder llm.Embedder, index vector.Index, chat llm.Chat, cfg Config, ql *QueryLogger, m *metrics.Metrics) (*Engine, error) {
	if cfg.TopK < 1 || cfg.GlobalCap < 1 {
		return nil, fmt.Errorf("topK and global cap must be positive: topK=%d cap=%d", cfg.TopK, cfg.GlobalCap)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create search pool: %w", err)
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		chat:     chat,
		pool:     pool,
		cfg:      cfg,
		log:      ql,
		metrics:  m,
	}, nil
}

// Close releases the search pool.
func (e *Engine) Close() {
	e.pool.Release()
}

// Ask retrieves context for req and produces one grounded completion.
func (e *Engine) Ask(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()

	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	hits, partial, err := e.retrieve(ctx, req)
	if err != nil {
		e.finish(ctx, req, "no_answer", 0, len(req.DocumentKeys), start)
		return nil, err
	}

	text, err := e.chat.Complete(ctx, BuildMessages(hits, req.Query))
	if err != nil {
		e.finish(ctx, req, "error", len(hits), failedCount(partial), start)
		return nil, fmt.Errorf("complete answer: %w", err)
	}

	outcome := "complete"
	if partial != nil {
		outcome = "partial"
	}
	e.finish(ctx, req, outcome, len(hits), failedCount(partial), start)

	return &Answer{Text: text, OwnerID: req.OwnerID, Hits: hits, Partial: partial}, nil
}

// Search runs only the fan-out and merge.
func (e *Engine) Search(ctx context.Context, req Request) ([]vector.Hit, *PartialSearchFailure, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.retrieve(ctx, req)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

type result struct {
	slot int
	hits []vector.Hit
	err  error
}

// retrieve searches every document concurrently and waits for all of them
// to settle or for ctx to end. Searches still running at that point are
// counted as failed.
func (e *Engine) retrieve(ctx context.Context, req Request) ([]vector.Hit, *PartialSearchFailure, error) {
	vec, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	keys := req.DocumentKeys
	results := make(chan result, len(keys))

	// Submit blocks while the shared pool is saturated, so it runs apart
	// from the collect loop below and ctx bounds the wait either way.
	go func() {
		for i, key := range keys {
			q := vector.Query{Vector: vec, OwnerID: req.OwnerID, DocumentKey: key, TopK: e.cfg.TopK}
			slot := i
			if err := ctx.Err(); err != nil {
				results <- result{slot: slot, err: err}
				continue
			}
			if err := e.pool.Submit(func() {
				if err := ctx.Err(); err != nil {
					results <- result{slot: slot, err: err}
					return
				}
				hits, err := e.searchOne(ctx, q)
				results <- result{slot: slot, hits: hits, err: err}
			}); err != nil {
				results <- result{slot: slot, err: fmt.Errorf("schedule search: %w", err)}
			}
		}
	}()

	perDoc := make([][]vector.Hit, len(keys))
	errs := make([]error, len(keys))
	settled := make([]bool, len(keys))
	pending := len(keys)

collect:
	for pending > 0 {
		select {
		case r := <-results:
			perDoc[r.slot], errs[r.slot] = r.hits, r.err
			settled[r.slot] = true
			pending--
		case <-ctx.Done():
			break collect
		}
	}

	var partial *PartialSearchFailure
	for i, key := range keys {
		if !settled[i] {
			errs[i] = fmt.Errorf("search cancelled: %w", ctx.Err())
		}
		if errs[i] == nil {
			continue
		}
		slog.WarnContext(ctx, "document search failed", "document_key", key, "error", errs[i])
		if partial == nil {
			partial = &PartialSearchFailure{Failed: map[string]error{}, Total: len(keys)}
		}
		partial.Failed[key] = errs[i]
	}

	if partial != nil && len(partial.Failed) == len(keys) {
		return nil, nil, fmt.Errorf("%w: %w", ErrAllSearchesFailed, errors.Join(errs...))
	}

	return merge(perDoc, e.cfg.GlobalCap), partial, nil
}

// searchOne runs a single document's search and drops any hit outside the
// owner and document the query is scoped to.
func (e *Engine) searchOne(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	hits, err := e.index.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	admitted := hits[:0]
	for _, h := range hits {
		if !q.Admits(h) {
			slog.ErrorContext(ctx, "index returned hit outside query scope", "document_key", q.DocumentKey, "hit_document_key", h.Metadata.DocumentKey)
			continue
		}
		admitted = append(admitted, h)
	}
	return admitted, nil
}

// merge concatenates per-document hits in request order, keeping each
// document's own ranking, and truncates to limit.
func merge(perDoc [][]vector.Hit, limit int) []vector.Hit {
	var out []vector.Hit
	for _, hits := range perDoc {
		out = append(out, hits...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func failedCount(p *PartialSearchFailure) int {
	if p == nil {
		return 0
	}
	return len(p.Failed)
}

func (e *Engine) finish(ctx context.Context, req Request, outcome string, hits, failed int, start time.Time) {
	took := time.Since(start)
	e.metrics.QueryFinished(outcome, failed, took)
	e.log.Log(QueryLogEntry{
		OwnerID:        req.OwnerID,
		Query:          req.Query,
		Documents:      req.DocumentKeys,
		NumResults:     hits,
		FailedSearches: failed,
		Outcome:        outcome,
		Duration:       took,
		CorrelationID:  middleware.GetCorrelationID(ctx),
	})
}
