package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"ragline/internal/vector"
)

// Store is a vector.Index over a Weaviate class with caller-supplied vectors.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, NewSchemaClient(s.client))
}

// Upsert writes records in one batch request. Objects carry their chunk id,
// so a repeated batch replaces rather than duplicates.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		objects = append(objects, &models.Object{
			Class:      ClassName,
			ID:         strfmt.UUID(r.ID),
			Properties: r.Metadata.Properties(r.Text),
			Vector:     r.Vector,
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	var failures []string
	for _, o := range res {
		if o.Result == nil || o.Result.Errors == nil {
			continue
		}
		for _, e := range o.Result.Errors.Error {
			failures = append(failures, fmt.Sprintf("%s: %s", o.ID, e.Message))
		}
	}
	if len(failures) > 0 {
		return errors.New("batch upsert: " + strings.Join(failures, "; "))
	}
	return nil
}

func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{vector.PropOwnerID}).
				WithOperator(filters.Equal).
				WithValueText(q.OwnerID),
			filters.Where().
				WithPath([]string{vector.PropDocumentKey}).
				WithOperator(filters.Equal).
				WithValueText(q.DocumentKey),
		})

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(q.Vector)

	fields := []graphql.Field{
		{Name: vector.PropContent},
		{Name: vector.PropOwnerID},
		{Name: vector.PropDocumentKey},
		{Name: vector.PropSourceLabel},
		{Name: vector.PropUploadDate},
		{Name: vector.PropFileType},
		{Name: vector.PropFileName},
		{Name: vector.PropSequence},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(q.TopK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", res.Errors[0].Message)
	}

	var hits []vector.Hit
	data, _ := res.Data["Get"].(map[string]interface{})
	objects, _ := data[ClassName].([]interface{})
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		hit := vector.Hit{Metadata: vector.MetadataFromProperties(props), Rank: len(hits) + 1}
		hit.Text, _ = props[vector.PropContent].(string)
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Score = float32(1 - d)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
