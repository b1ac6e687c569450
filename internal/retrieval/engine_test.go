package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/adapter/chromem"
	"ragline/internal/llm"
	"ragline/internal/retrieval"
	"ragline/internal/vector"
)

type staticEmbedder struct {
	err error
}

func (e staticEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e staticEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, e.err
}

// scriptedIndex answers each document's search according to its script.
type scriptedIndex struct {
	mu      sync.Mutex
	queries []vector.Query
	fail    map[string]bool
	block   map[string]bool
	foreign map[string]bool
	// stall holds a search until release closes, ignoring cancellation.
	stall   map[string]bool
	release chan struct{}
}

func (s *scriptedIndex) Upsert(ctx context.Context, records []vector.Record) error { return nil }

func (s *scriptedIndex) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()

	if s.block[q.DocumentKey] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.stall[q.DocumentKey] {
		<-s.release
		return nil, ctx.Err()
	}
	if s.fail[q.DocumentKey] {
		return nil, fmt.Errorf("search %s: connection reset", q.DocumentKey)
	}

	hits := make([]vector.Hit, 0, q.TopK)
	for i := 0; i < q.TopK; i++ {
		hits = append(hits, vector.Hit{
			Text:     fmt.Sprintf("%s-%d", q.DocumentKey, i+1),
			Metadata: vector.Metadata{OwnerID: q.OwnerID, DocumentKey: q.DocumentKey, SourceLabel: "page 1"},
			Rank:     i + 1,
		})
	}
	if s.foreign[q.DocumentKey] {
		hits = append(hits, vector.Hit{
			Text:     "someone else's secret",
			Metadata: vector.Metadata{OwnerID: "intruder", DocumentKey: q.DocumentKey},
		})
	}
	return hits, nil
}

type recordingChat struct {
	mu    sync.Mutex
	calls [][]llm.Message
}

func (c *recordingChat) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, messages)
	return "the answer", nil
}

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("doc-%d", i)
	}
	return out
}

func newEngine(t *testing.T, idx vector.Index, chat llm.Chat, timeout time.Duration) *retrieval.Engine {
	t.Helper()
	e, err := retrieval.NewEngine(staticEmbedder{}, idx, chat, retrieval.Config{
		TopK: 3, GlobalCap: 15, Timeout: timeout, Concurrency: 8,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestEngine_PartialFailureStillAnswers(t *testing.T) {
	idx := &scriptedIndex{fail: map[string]bool{"doc-1": true, "doc-3": true}}
	chat := &recordingChat{}
	e := newEngine(t, idx, chat, time.Second)

	ans, err := e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(5)})
	require.NoError(t, err)

	assert.Equal(t, "the answer", ans.Text)
	assert.Equal(t, "u1", ans.OwnerID)
	assert.Len(t, ans.Hits, 9)
	require.NotNil(t, ans.Partial)
	assert.Len(t, ans.Partial.Failed, 2)
	assert.Contains(t, ans.Partial.Failed, "doc-1")
	assert.Contains(t, ans.Partial.Failed, "doc-3")
	assert.Len(t, chat.calls, 1)
}

func TestEngine_AllSearchesFailed(t *testing.T) {
	idx := &scriptedIndex{fail: map[string]bool{}}
	for _, k := range keys(5) {
		idx.fail[k] = true
	}
	chat := &recordingChat{}
	e := newEngine(t, idx, chat, time.Second)

	_, err := e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(5)})
	assert.ErrorIs(t, err, retrieval.ErrAllSearchesFailed)
	assert.Empty(t, chat.calls)
}

func TestEngine_MergeKeepsDocumentOrderAndCaps(t *testing.T) {
	chat := &recordingChat{}
	e := newEngine(t, &scriptedIndex{}, chat, time.Second)

	ans, err := e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(6)})
	require.NoError(t, err)
	require.Len(t, ans.Hits, 15)
	assert.Nil(t, ans.Partial)

	for i, h := range ans.Hits {
		assert.Equal(t, fmt.Sprintf("doc-%d", i/3), h.Metadata.DocumentKey)
		assert.Equal(t, i%3+1, h.Rank)
	}
	for _, h := range ans.Hits {
		assert.NotEqual(t, "doc-5", h.Metadata.DocumentKey)
	}
}

func TestEngine_EverySearchCarriesOwnerFilter(t *testing.T) {
	idx := &scriptedIndex{foreign: map[string]bool{"doc-0": true}}
	e := newEngine(t, idx, &recordingChat{}, time.Second)

	hits, _, err := e.Search(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(3)})
	require.NoError(t, err)

	require.Len(t, idx.queries, 3)
	for _, q := range idx.queries {
		assert.Equal(t, "u1", q.OwnerID)
		assert.NotEmpty(t, q.DocumentKey)
	}
	for _, h := range hits {
		assert.Equal(t, "u1", h.Metadata.OwnerID)
	}
	assert.Len(t, hits, 9)
}

func TestEngine_OtherOwnersChunksAreInvisible(t *testing.T) {
	store, err := chromem.NewStore("", "chunks")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []vector.Record{{
		ID:       vector.ChunkID("shared-key", 0),
		Vector:   []float32{1, 0, 0},
		Text:     "owner one's salary data",
		Metadata: vector.Metadata{OwnerID: "u1", DocumentKey: "shared-key", UploadDate: time.Now()},
	}}))

	e := newEngine(t, store, &recordingChat{}, time.Second)

	hits, partial, err := e.Search(ctx, retrieval.Request{Query: "salary", OwnerID: "u2", DocumentKeys: []string{"shared-key"}})
	require.NoError(t, err)
	assert.Nil(t, partial)
	assert.Empty(t, hits)

	hits, _, err = e.Search(ctx, retrieval.Request{Query: "salary", OwnerID: "u1", DocumentKeys: []string{"shared-key"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "owner one's salary data", hits[0].Text)
}

func TestEngine_TimeoutCancelsPendingSearches(t *testing.T) {
	idx := &scriptedIndex{block: map[string]bool{"doc-2": true}}
	e := newEngine(t, idx, &recordingChat{}, 50*time.Millisecond)

	start := time.Now()
	hits, partial, err := e.Search(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(3)})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, hits, 6)
	require.NotNil(t, partial)
	assert.ErrorIs(t, partial.Failed["doc-2"], context.DeadlineExceeded)
}

func TestEngine_TimeoutOnEverySearchIsNoAnswer(t *testing.T) {
	idx := &scriptedIndex{block: map[string]bool{"doc-0": true, "doc-1": true}}
	chat := &recordingChat{}
	e := newEngine(t, idx, chat, 30*time.Millisecond)

	_, err := e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(2)})
	assert.ErrorIs(t, err, retrieval.ErrAllSearchesFailed)
	assert.Empty(t, chat.calls)
}

func TestEngine_PromptCarriesContextAndQuery(t *testing.T) {
	chat := &recordingChat{}
	e := newEngine(t, &scriptedIndex{}, chat, time.Second)

	_, err := e.Ask(context.Background(), retrieval.Request{Query: "  what changed?  ", OwnerID: "u1", DocumentKeys: []string{"a", "a", ""}})
	require.NoError(t, err)
	require.Len(t, chat.calls, 1)

	msgs := chat.calls[0]
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, retrieval.SystemPrompt, msgs[0].Text)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "[a · page 1] a-1\n[a · page 1] a-2\n[a · page 1] a-3", msgs[1].Text)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Text: "what changed?"}, msgs[2])
}

func TestEngine_EmbedFailureIsReturned(t *testing.T) {
	idx := &scriptedIndex{}
	e, err := retrieval.NewEngine(staticEmbedder{err: errors.New("quota")}, idx, &recordingChat{}, retrieval.Config{TopK: 3, GlobalCap: 15}, nil, nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: []string{"a"}})
	assert.ErrorContains(t, err, "quota")
	assert.Empty(t, idx.queries)
}

func TestEngine_InvalidRequest(t *testing.T) {
	e := newEngine(t, &scriptedIndex{}, &recordingChat{}, time.Second)

	for _, req := range []retrieval.Request{
		{Query: " ", OwnerID: "u1", DocumentKeys: []string{"a"}},
		{Query: "q", DocumentKeys: []string{"a"}},
		{Query: "q", OwnerID: "u1", DocumentKeys: []string{"", " "}},
	} {
		_, err := e.Ask(context.Background(), req)
		assert.ErrorIs(t, err, retrieval.ErrInvalidRequest)
	}
}

func TestEngine_WritesQueryLog(t *testing.T) {
	var buf bytes.Buffer
	e, err := retrieval.NewEngine(staticEmbedder{}, &scriptedIndex{fail: map[string]bool{"b": true}}, &recordingChat{},
		retrieval.Config{TopK: 2, GlobalCap: 15, Timeout: time.Second}, retrieval.NewQueryLogger(&buf), nil)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: []string{"a", "b"}})
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "partial", entry.Outcome)
	assert.Equal(t, 2, entry.NumResults)
	assert.Equal(t, 1, entry.FailedSearches)
	assert.Equal(t, []string{"a", "b"}, entry.Documents)
}

func TestNewEngine_RejectsBadLimits(t *testing.T) {
	_, err := retrieval.NewEngine(staticEmbedder{}, &scriptedIndex{}, &recordingChat{}, retrieval.Config{TopK: 0, GlobalCap: 15}, nil, nil)
	assert.Error(t, err)
}

func TestEngine_SaturatedPoolStillHonoursTimeout(t *testing.T) {
	idx := &scriptedIndex{stall: map[string]bool{"doc-0": true}, release: make(chan struct{})}
	e, err := retrieval.NewEngine(staticEmbedder{}, idx, &recordingChat{}, retrieval.Config{
		TopK: 3, GlobalCap: 15, Timeout: 100 * time.Millisecond, Concurrency: 1,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	defer close(idx.release)

	start := time.Now()
	_, err = e.Ask(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(4)})

	assert.ErrorIs(t, err, retrieval.ErrAllSearchesFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEngine_PoolHeldByAnotherRequestStillHonoursTimeout(t *testing.T) {
	idx := &scriptedIndex{stall: map[string]bool{"held-0": true, "held-1": true}, release: make(chan struct{})}
	e, err := retrieval.NewEngine(staticEmbedder{}, idx, &recordingChat{}, retrieval.Config{
		TopK: 3, GlobalCap: 15, Timeout: 100 * time.Millisecond, Concurrency: 2,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	defer close(idx.release)

	// The first request leaves both workers stuck in stalled searches.
	_, _, err = e.Search(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: []string{"held-0", "held-1"}})
	require.ErrorIs(t, err, retrieval.ErrAllSearchesFailed)

	start := time.Now()
	_, _, err = e.Search(context.Background(), retrieval.Request{Query: "q", OwnerID: "u1", DocumentKeys: keys(2)})

	assert.ErrorIs(t, err, retrieval.ErrAllSearchesFailed)
	assert.Less(t, time.Since(start), time.Second)
}
