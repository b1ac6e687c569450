package worker_test

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"ragline/features/deadletter"
	"ragline/features/document"
	"ragline/internal/blob"
	"ragline/internal/vector"
	"ragline/internal/worker"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(s string) int { return len(strings.Fields(s)) }

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

// flakyBlobs serves objects after failing the first failures fetches of
// each key with err.
type flakyBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures int
	err      error
	calls    map[string]int
}

func newBlobs(objects map[string][]byte) *flakyBlobs {
	return &flakyBlobs{objects: objects, calls: map[string]int{}}
}

func (b *flakyBlobs) Fetch(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[key]++
	if b.calls[key] <= b.failures {
		return nil, b.err
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

// hashEmbedder maps each text to a small deterministic non-zero vector.
type hashEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (e *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embed(t)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embed(text), nil
}

func embed(t string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(t))
	sum := h.Sum64()
	v := make([]float32, 4)
	for i := range v {
		v[i] = float32((sum>>(i*16))&0xffff)/65535 + 0.01
	}
	return v
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func newPublisher() *recordingPublisher {
	return &recordingPublisher{messages: map[string][][]byte{}}
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = append(p.messages[topic], body)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[topic])
}

// failingIndex rejects every upsert.
type failingIndex struct {
	calls int
}

func (f *failingIndex) Upsert(ctx context.Context, records []vector.Record) error {
	f.calls++
	return errors.New("index unavailable")
}

func (f *failingIndex) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	return nil, nil
}

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, job worker.IngestionJob) (*worker.PersistenceJob, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worker.PersistenceJob), args.Error(1)
}

type MockDeadLetters struct{ mock.Mock }

func (m *MockDeadLetters) Save(ctx context.Context, l *deadletter.Letter) error {
	return m.Called(ctx, l).Error(0)
}

type MockDocuments struct{ mock.Mock }

func (m *MockDocuments) Upsert(ctx context.Context, d *document.Document) error {
	return m.Called(ctx, d).Error(0)
}
