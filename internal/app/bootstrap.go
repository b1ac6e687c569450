package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"ragline/internal/adapter/chromem"
	"ragline/internal/adapter/gemini"
	"ragline/internal/adapter/openai"
	"ragline/internal/adapter/pgvector"
	"ragline/internal/adapter/qdrant"
	wstore "ragline/internal/adapter/weaviate"
	"ragline/internal/blob"
	"ragline/internal/config"
	"ragline/internal/llm"
	"ragline/internal/text"
	"ragline/internal/vector"
)

// VectorStore is an index whose schema can be prepared at startup.
type VectorStore interface {
	vector.Index
	EnsureSchema(ctx context.Context) error
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type Dependencies struct {
	DB          *sql.DB
	VectorStore VectorStore
	Blobs       blob.Store
	Embedder    llm.Embedder
	Chat        llm.Chat
	Tokenizer   text.Tokenizer
	NSQProducer *nsq.Producer
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	vecStore, err := NewVectorStore(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := EnsureSchemaWithRetry(ctx, vecStore, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s schema error: %w", cfg.VectorBackend, err)
	}

	blobs, err := NewBlobStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	embedder, chat, err := NewModels(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.TokenizerBPEDir != "" {
		text.LoadEncodingsFrom(cfg.TokenizerBPEDir)
	}
	tok, err := text.NewTiktokenTokenizer(cfg.Tokenizer())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tokenizer error: %w", err)
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{
		DB:          db,
		VectorStore: vecStore,
		Blobs:       blobs,
		Embedder:    embedder,
		Chat:        chat,
		Tokenizer:   tok,
		NSQProducer: producer,
	}, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// NewVectorStore opens the index selected by VECTOR_BACKEND. The pgvector
// backend shares db with the relational tables.
func NewVectorStore(ctx context.Context, cfg *config.Config, db *sql.DB) (VectorStore, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client), nil
	case config.VectorBackendQdrant:
		client, err := qdrant.NewClient(qdrant.Config{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dimensions: cfg.VectorDimensions,
		})
		if err != nil {
			return nil, err
		}
		return qdrant.NewStore(client, cfg.QdrantCollection, cfg.VectorDimensions), nil
	case config.VectorBackendChromem:
		return chromem.NewStore(cfg.ChromemPath, "document_chunks")
	case config.VectorBackendPgvector:
		if db == nil {
			return nil, fmt.Errorf("pgvector backend needs a database")
		}
		return pgvector.NewStore(db, cfg.VectorDimensions), nil
	default:
		return nil, fmt.Errorf("%w: VECTOR_BACKEND=%q", config.ErrInvalidValue, cfg.VectorBackend)
	}
}

func NewBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		s, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store error: %w", err)
		}
		return s, nil
	case config.BlobBackendDir:
		return blob.NewDirStore(cfg.BlobDir), nil
	default:
		return nil, fmt.Errorf("%w: BLOB_BACKEND=%q", config.ErrInvalidValue, cfg.BlobBackend)
	}
}

// NewModels builds the embedder and chat model for AI_PROVIDER.
func NewModels(ctx context.Context, cfg *config.Config) (llm.Embedder, llm.Chat, error) {
	switch cfg.AIProvider {
	case config.ProviderGemini:
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini client error: %w", err)
		}
		return gemini.NewEmbedder(client, cfg.GeminiEmbedModel), gemini.NewChat(client, cfg.GeminiChatModel), nil
	case config.ProviderOpenAI:
		oc := openai.Config{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			EmbedModel: cfg.OpenAIEmbedModel,
			ChatModel:  cfg.OpenAIChatModel,
		}
		embedder, err := openai.NewEmbedder(oc)
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder error: %w", err)
		}
		chat, err := openai.NewChat(oc)
		if err != nil {
			return nil, nil, fmt.Errorf("openai chat error: %w", err)
		}
		return embedder, chat, nil
	default:
		return nil, nil, fmt.Errorf("%w: AI_PROVIDER=%q", config.ErrInvalidValue, cfg.AIProvider)
	}
}

// createTopics asks nsqd to create the pipeline topics so consumers that
// start before the first publish find them through lookupd.
func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestDocument)
		create(config.TopicPersistDocument)
	}()
}

// EnsureSchemaWithRetry calls store.EnsureSchema until it succeeds or
// attempts run out, sleeping delay in between.
func EnsureSchemaWithRetry(ctx context.Context, store VectorStore, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure vector schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
