package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendQdrant   = "qdrant"
	VectorBackendChromem  = "chromem"
	VectorBackendPgvector = "pgvector"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BlobBackendS3  = "s3"
	BlobBackendDir = "dir"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"ragline"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"ragline"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI              bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker     bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	EnablePersistWorker    bool   `envconfig:"ENABLE_PERSIST_WORKER" default:"true"`
	IngestionConcurrency   int    `envconfig:"INGESTION_CONCURRENCY" default:"5"`
	IngestionMaxAttempts   uint16 `envconfig:"INGESTION_MAX_ATTEMPTS" default:"3"`
	IngestionRequeueDelayS int    `envconfig:"INGESTION_REQUEUE_DELAY_SECONDS" default:"1"`
	IngestionJobTimeoutS   int    `envconfig:"INGESTION_JOB_TIMEOUT_SECONDS" default:"600"`
	MigrationPath          string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Blob store
	BlobBackend      string `envconfig:"BLOB_BACKEND" default:"s3"`
	S3Bucket         string `envconfig:"S3_BUCKET"`
	S3Region         string `envconfig:"S3_REGION" default:"auto"`
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3AccessKey      string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey      string `envconfig:"S3_SECRET_KEY"`
	BlobDir          string `envconfig:"BLOB_DIR" default:"./uploads"`
	FetchAttempts    int    `envconfig:"FETCH_ATTEMPTS" default:"3"`
	FetchBaseDelayMs int    `envconfig:"FETCH_BASE_DELAY_MS" default:"1000"`

	// Vector index
	VectorBackend     string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost      string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme    string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	QdrantHost        string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort        int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey      string `envconfig:"QDRANT_API_KEY"`
	QdrantCollection  string `envconfig:"QDRANT_COLLECTION" default:"document_chunks"`
	ChromemPath       string `envconfig:"CHROMEM_PATH"`
	VectorDimensions  int    `envconfig:"VECTOR_DIMENSIONS" default:"1536"`
	UpsertAttempts    int    `envconfig:"UPSERT_ATTEMPTS" default:"3"`
	UpsertBaseDelayMs int    `envconfig:"UPSERT_BASE_DELAY_MS" default:"500"`

	// Models
	AIProvider       string `envconfig:"AI_PROVIDER" default:"openai"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiChatModel  string `envconfig:"GEMINI_CHAT_MODEL" default:"gemini-2.0-flash"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL"`
	OpenAIEmbedModel string `envconfig:"OPENAI_EMBED_MODEL" default:"text-embedding-3-small"`
	OpenAIChatModel  string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-3.5-turbo"`

	// Splitting and batching
	// TokenizerEncoding defaults to the encoding of OPENAI_EMBED_MODEL.
	TokenizerEncoding string `envconfig:"TOKENIZER_ENCODING"`
	TokenizerBPEDir   string `envconfig:"TOKENIZER_BPE_DIR"`
	ChunkTokenBudget  int    `envconfig:"CHUNK_TOKEN_BUDGET" default:"1000"`
	ChunkTokenOverlap int    `envconfig:"CHUNK_TOKEN_OVERLAP" default:"200"`
	BatchTokenBudget  int    `envconfig:"BATCH_TOKEN_BUDGET" default:"4000"`
	BatchMaxItems     int    `envconfig:"BATCH_MAX_ITEMS" default:"100"`

	// Query fan-out
	SearchTopK          int `envconfig:"SEARCH_TOP_K" default:"3"`
	SearchGlobalCap     int `envconfig:"SEARCH_GLOBAL_CAP" default:"15"`
	SearchConcurrency   int `envconfig:"SEARCH_CONCURRENCY" default:"32"`
	QueryTimeoutSeconds int `envconfig:"QUERY_TIMEOUT_SECONDS" default:"30"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	JWTSecret    string `envconfig:"JWT_SECRET"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; .env files are optional.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.BlobBackend {
	case BlobBackendS3, BlobBackendDir:
	default:
		return fmt.Errorf("%w: BLOB_BACKEND=%q", ErrInvalidValue, c.BlobBackend)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate, VectorBackendQdrant, VectorBackendChromem, VectorBackendPgvector:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	switch c.AIProvider {
	case ProviderOpenAI:
		known, ok := embedEncodings[c.OpenAIEmbedModel]
		if !ok && c.TokenizerEncoding == "" {
			return fmt.Errorf("%w: TOKENIZER_ENCODING for OPENAI_EMBED_MODEL=%q", ErrMissingRequired, c.OpenAIEmbedModel)
		}
		if ok && c.TokenizerEncoding != "" && c.TokenizerEncoding != known {
			return fmt.Errorf("%w: TOKENIZER_ENCODING=%q, OPENAI_EMBED_MODEL=%q tokenizes with %s",
				ErrInvalidValue, c.TokenizerEncoding, c.OpenAIEmbedModel, known)
		}
	case ProviderGemini:
		// Gemini models have no BPE encoding; the operator picks the
		// approximation the chunk budget is measured in.
		if c.TokenizerEncoding == "" {
			return fmt.Errorf("%w: TOKENIZER_ENCODING when AI_PROVIDER=gemini", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: AI_PROVIDER=%q", ErrInvalidValue, c.AIProvider)
	}

	if c.ChunkTokenBudget < 1 {
		return fmt.Errorf("%w: CHUNK_TOKEN_BUDGET must be positive", ErrInvalidValue)
	}
	if c.ChunkTokenOverlap < 0 || c.ChunkTokenOverlap >= c.ChunkTokenBudget {
		return fmt.Errorf("%w: CHUNK_TOKEN_OVERLAP must be in [0, CHUNK_TOKEN_BUDGET)", ErrInvalidValue)
	}
	if c.BatchTokenBudget < 1 {
		return fmt.Errorf("%w: BATCH_TOKEN_BUDGET must be positive", ErrInvalidValue)
	}
	if c.BatchMaxItems < 1 {
		return fmt.Errorf("%w: BATCH_MAX_ITEMS must be positive", ErrInvalidValue)
	}
	if c.FetchAttempts < 1 || c.UpsertAttempts < 1 {
		return fmt.Errorf("%w: retry attempts must be at least 1", ErrInvalidValue)
	}
	if c.SearchTopK < 1 {
		return fmt.Errorf("%w: SEARCH_TOP_K must be at least 1", ErrInvalidValue)
	}
	if c.SearchGlobalCap < 1 {
		return fmt.Errorf("%w: SEARCH_GLOBAL_CAP must be at least 1", ErrInvalidValue)
	}
	if c.IngestionConcurrency < 1 {
		return fmt.Errorf("%w: INGESTION_CONCURRENCY must be at least 1", ErrInvalidValue)
	}
	return nil
}

// embedEncodings maps OpenAI embedding models to their tiktoken encoding.
var embedEncodings = map[string]string{
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

// Tokenizer names the tiktoken encoding chunk budgets are counted in.
func (c *Config) Tokenizer() string {
	if c.TokenizerEncoding != "" {
		return c.TokenizerEncoding
	}
	if c.AIProvider == ProviderOpenAI {
		return embedEncodings[c.OpenAIEmbedModel]
	}
	return ""
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func (c *Config) IngestionJobTimeout() time.Duration {
	return time.Duration(c.IngestionJobTimeoutS) * time.Second
}

func (c *Config) IngestionRequeueDelay() time.Duration {
	return time.Duration(c.IngestionRequeueDelayS) * time.Second
}

func (c *Config) FetchBaseDelay() time.Duration {
	return time.Duration(c.FetchBaseDelayMs) * time.Millisecond
}

func (c *Config) UpsertBaseDelay() time.Duration {
	return time.Duration(c.UpsertBaseDelayMs) * time.Millisecond
}
