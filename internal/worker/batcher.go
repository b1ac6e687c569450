package worker

import (
	"context"

	"ragline/internal/text"
)

// Batch is a run of consecutive chunks sent to the embedder together.
type Batch struct {
	Chunks []text.Chunk
	Tokens int
}

type FlushFunc func(ctx context.Context, b Batch) error

// Batcher groups chunks under a token budget and an item cap. A chunk is
// never split across batches; one that exceeds the budget by itself travels
// alone.
type Batcher struct {
	budget   int
	maxItems int
	flush    FlushFunc
	pending  Batch
}

// NewBatcher builds a batcher; maxItems below 1 leaves the item count
// unbounded.
func NewBatcher(budget, maxItems int, flush FlushFunc) *Batcher {
	return &Batcher{budget: budget, maxItems: maxItems, flush: flush}
}

// Add queues c, first flushing the pending batch if c would push it over
// the budget or the item cap.
func (b *Batcher) Add(ctx context.Context, c text.Chunk) error {
	n := len(b.pending.Chunks)
	full := b.maxItems > 0 && n >= b.maxItems
	if n > 0 && (full || b.pending.Tokens+c.Tokens > b.budget) {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.pending.Chunks = append(b.pending.Chunks, c)
	b.pending.Tokens += c.Tokens
	return nil
}

// Flush sends the pending batch and waits for it to be written.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending.Chunks) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = Batch{}
	return b.flush(ctx, batch)
}
