package weaviate

import (
	"context"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"ragline/internal/vector"
)

const ClassName = "DocumentChunk"

const tokenField = "field"

// SchemaClient is the subset of the Weaviate schema API EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ErrTokenization is returned when an existing class indexes an exact-match
// property with a tokenization other than field. Weaviate cannot change it
// in place, so the class has to be recreated.
var ErrTokenization = errors.New("weaviate property is not field tokenized")

func chunkProperties() []*models.Property {
	// Field tokenization indexes the whole value as one token, so Equal
	// filters on ids and keys never match on a word inside them.
	return []*models.Property{
		{Name: vector.PropContent, DataType: []string{"text"}},
		{Name: vector.PropOwnerID, DataType: []string{"text"}, Tokenization: tokenField},
		{Name: vector.PropDocumentKey, DataType: []string{"text"}, Tokenization: tokenField},
		{Name: vector.PropSource, DataType: []string{"text"}, Tokenization: tokenField},
		{Name: vector.PropSourceLabel, DataType: []string{"text"}},
		{Name: vector.PropUploadDate, DataType: []string{"text"}, Tokenization: tokenField},
		{Name: vector.PropFileType, DataType: []string{"text"}, Tokenization: tokenField},
		{Name: vector.PropFileName, DataType: []string{"text"}},
		{Name: vector.PropSequence, DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class, or adds any properties an older
// deployment of it lacks.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := chunkProperties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ClassName,
			Description: "A token-bounded chunk of an uploaded document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	have := make(map[string]*models.Property, len(class.Properties))
	for _, p := range class.Properties {
		have[p.Name] = p
	}
	for _, p := range properties {
		if old, ok := have[p.Name]; ok {
			if p.Tokenization == tokenField && old.Tokenization != p.Tokenization {
				return fmt.Errorf("%w: %s.%s uses %q", ErrTokenization, ClassName, p.Name, old.Tokenization)
			}
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return err
		}
	}
	return nil
}

type schemaClient struct {
	client *weaviate.Client
}

func NewSchemaClient(client *weaviate.Client) SchemaClient {
	return &schemaClient{client: client}
}

func (a *schemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a *schemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a *schemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a *schemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}
