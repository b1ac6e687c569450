package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"ragline/features/deadletter"
	"ragline/features/document"
)

var ErrInvalidJob = errors.New("invalid ingestion job")

// IngestionJob is published once an upload has completed.
type IngestionJob struct {
	DocumentKey   string    `json:"document_key"`
	OwnerID       string    `json:"owner_id"`
	FileName      string    `json:"file_name"`
	Size          int64     `json:"size"`
	UploadedAt    time.Time `json:"uploaded_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (j IngestionJob) Validate() error {
	if j.DocumentKey == "" {
		return errors.Join(ErrInvalidJob, errors.New("document_key is required"))
	}
	if j.OwnerID == "" {
		return errors.Join(ErrInvalidJob, errors.New("owner_id is required"))
	}
	if j.Size < 0 {
		return errors.Join(ErrInvalidJob, errors.New("size must not be negative"))
	}
	// Keys live under the owner's prefix. Chunk ids derive from the key, so a
	// key outside it would overwrite another owner's chunks.
	name, ok := strings.CutPrefix(j.DocumentKey, j.OwnerID+"/")
	if !ok || name == "" || path.Clean(j.DocumentKey) != j.DocumentKey {
		return errors.Join(ErrInvalidJob, fmt.Errorf("document_key %q is not under owner %q", j.DocumentKey, j.OwnerID))
	}
	return nil
}

// PersistenceJob is emitted after every chunk of a document is in the index.
type PersistenceJob struct {
	DocumentKey     string `json:"document_key"`
	OwnerID         string `json:"owner_id"`
	FileName        string `json:"file_name"`
	FileType        string `json:"file_type"`
	Size            int64  `json:"size"`
	ChunkCount      int    `json:"chunk_count"`
	TotalTextLength int    `json:"total_text_length"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type DeadLetterSaver interface {
	Save(ctx context.Context, l *deadletter.Letter) error
}

type DocumentStore interface {
	Upsert(ctx context.Context, d *document.Document) error
}
