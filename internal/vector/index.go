// Package vector defines the chunk records stored in a vector index and the
// contract every index backend implements.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Property names shared by every backend's payload.
const (
	PropContent     = "content"
	PropOwnerID     = "ownerId"
	PropDocumentKey = "documentKey"
	PropSource      = "source"
	PropSourceLabel = "sourceLabel"
	PropUploadDate  = "uploadDate"
	PropFileType    = "fileType"
	PropFileName    = "fileName"
	PropSequence    = "sequence"
)

var (
	ErrMissingFilter = errors.New("search requires owner and document filters")
	ErrInvalidTopK   = errors.New("topK must be positive")
)

type Metadata struct {
	OwnerID     string
	DocumentKey string
	SourceLabel string
	FileType    string
	FileName    string
	UploadDate  time.Time
	Sequence    int
}

// Record is one chunk ready to be written. ID must come from ChunkID so
// that rewriting a chunk replaces it.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Hit is a search result. Rank is 1-based within the search that produced it.
type Hit struct {
	Text     string
	Metadata Metadata
	Rank     int
	Score    float32
}

// Query is a similarity search scoped to one owner's document.
type Query struct {
	Vector      []float32
	OwnerID     string
	DocumentKey string
	TopK        int
}

func (q Query) Validate() error {
	if q.OwnerID == "" || q.DocumentKey == "" {
		return ErrMissingFilter
	}
	if q.TopK < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, q.TopK)
	}
	return nil
}

// Admits reports whether h belongs to the owner and document q is scoped to.
func (q Query) Admits(h Hit) bool {
	return h.Metadata.OwnerID == q.OwnerID && h.Metadata.DocumentKey == q.DocumentKey
}

type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, q Query) ([]Hit, error)
}

var chunkNamespace = uuid.MustParse("6f1c1f7e-52a4-4d0b-9a8e-2f4c1d3b7a90")

// ChunkID derives a stable UUID from a chunk's logical identity.
func ChunkID(documentKey string, sequence int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentKey+"#"+strconv.Itoa(sequence))).String()
}

// Properties renders m with the text as a flat payload.
func (m Metadata) Properties(text string) map[string]any {
	return map[string]any{
		PropContent:     text,
		PropOwnerID:     m.OwnerID,
		PropDocumentKey: m.DocumentKey,
		PropSource:      m.DocumentKey,
		PropSourceLabel: m.SourceLabel,
		PropUploadDate:  m.UploadDate.UTC().Format(time.RFC3339),
		PropFileType:    m.FileType,
		PropFileName:    m.FileName,
		PropSequence:    m.Sequence,
	}
}

// Strings renders m for backends whose metadata is string-valued.
func (m Metadata) Strings() map[string]string {
	return map[string]string{
		PropOwnerID:     m.OwnerID,
		PropDocumentKey: m.DocumentKey,
		PropSource:      m.DocumentKey,
		PropSourceLabel: m.SourceLabel,
		PropUploadDate:  m.UploadDate.UTC().Format(time.RFC3339),
		PropFileType:    m.FileType,
		PropFileName:    m.FileName,
		PropSequence:    strconv.Itoa(m.Sequence),
	}
}

// MetadataFromStrings is the inverse of Strings. Malformed dates and
// sequences decode as zero values.
func MetadataFromStrings(s map[string]string) Metadata {
	m := Metadata{
		OwnerID:     s[PropOwnerID],
		DocumentKey: s[PropDocumentKey],
		SourceLabel: s[PropSourceLabel],
		FileType:    s[PropFileType],
		FileName:    s[PropFileName],
	}
	m.UploadDate, _ = time.Parse(time.RFC3339, s[PropUploadDate])
	m.Sequence, _ = strconv.Atoi(s[PropSequence])
	return m
}

// MetadataFromProperties decodes a JSON-shaped payload, where numbers
// arrive as float64.
func MetadataFromProperties(p map[string]any) Metadata {
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	m := Metadata{
		OwnerID:     str(PropOwnerID),
		DocumentKey: str(PropDocumentKey),
		SourceLabel: str(PropSourceLabel),
		FileType:    str(PropFileType),
		FileName:    str(PropFileName),
	}
	m.UploadDate, _ = time.Parse(time.RFC3339, str(PropUploadDate))
	switch v := p[PropSequence].(type) {
	case float64:
		m.Sequence = int(v)
	case int:
		m.Sequence = v
	case int64:
		m.Sequence = int(v)
	}
	return m
}
