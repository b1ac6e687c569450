package document

import "time"

// Document is the bookkeeping row for an ingested file. Its chunks live in
// the vector index; this row records what was indexed.
type Document struct {
	DocumentKey string    `json:"document_key"`
	OwnerID     string    `json:"owner_id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	TextLength  int       `json:"text_length"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
