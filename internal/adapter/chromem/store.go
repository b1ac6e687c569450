// Package chromem is an embedded vector.Index for single-node and test
// deployments.
package chromem

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"

	"ragline/internal/vector"
)

var errNoEmbedding = errors.New("chromem store only accepts precomputed embeddings")

type Store struct {
	collection *chromem.Collection
}

// NewStore opens a persistent database at path, or an in-memory one when
// path is empty.
func NewStore(path, collection string) (*Store, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}

	// A non-nil embedding func keeps chromem from defaulting to OpenAI.
	c, err := db.GetOrCreateCollection(collection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", collection, err)
	}
	return &Store{collection: c}, nil
}

// Upsert adds documents keyed by chunk id; an existing id is replaced.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  r.Metadata.Strings(),
			Embedding: r.Vector,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add %d documents: %w", len(docs), err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	n := q.TopK
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	where := map[string]string{
		vector.PropOwnerID:     q.OwnerID,
		vector.PropDocumentKey: q.DocumentKey,
	}
	results, err := s.collection.QueryEmbedding(ctx, q.Vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	hits := make([]vector.Hit, 0, len(results))
	for i, r := range results {
		hits = append(hits, vector.Hit{
			Text:     r.Content,
			Metadata: vector.MetadataFromStrings(r.Metadata),
			Rank:     i + 1,
			Score:    r.Similarity,
		})
	}
	return hits, nil
}

// Count reports how many chunks the collection holds.
func (s *Store) Count() int {
	return s.collection.Count()
}

// EnsureSchema is a no-op: the collection is created when the store opens.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}
