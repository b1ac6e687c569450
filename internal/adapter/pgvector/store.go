// Package pgvector stores chunk vectors in Postgres next to the service's
// own tables.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"ragline/internal/vector"
)

type Store struct {
	db         *sql.DB
	dimensions int
}

func NewStore(db *sql.DB, dimensions int) *Store {
	return &Store{db: db, dimensions: dimensions}
}

// EnsureSchema creates the chunk table. The vector width is a deployment
// setting, so the table is not part of the SQL migrations.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			document_key TEXT NOT NULL,
			source_label TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			upload_date TIMESTAMPTZ NOT NULL,
			sequence INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS document_chunks_owner_document_idx ON document_chunks (owner_id, document_key)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

const upsertQuery = `INSERT INTO document_chunks
	(id, owner_id, document_key, source_label, file_type, file_name, upload_date, sequence, content, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		source_label = EXCLUDED.source_label,
		file_type = EXCLUDED.file_type,
		file_name = EXCLUDED.file_name,
		upload_date = EXCLUDED.upload_date,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding`

// Upsert writes the batch in one transaction.
func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx,
			r.ID, m.OwnerID, m.DocumentKey, m.SourceLabel, m.FileType, m.FileName,
			m.UploadDate, m.Sequence, r.Text, pgvector.NewVector(r.Vector),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

const searchQuery = `SELECT content, owner_id, document_key, source_label, file_type, file_name, upload_date, sequence,
	1 - (embedding <=> $3) AS similarity
	FROM document_chunks
	WHERE owner_id = $1 AND document_key = $2
	ORDER BY embedding <=> $3
	LIMIT $4`

func (s *Store) Search(ctx context.Context, q vector.Query) ([]vector.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, searchQuery, q.OwnerID, q.DocumentKey, pgvector.NewVector(q.Vector), q.TopK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var (
			h        vector.Hit
			uploaded time.Time
			score    float64
		)
		if err := rows.Scan(&h.Text, &h.Metadata.OwnerID, &h.Metadata.DocumentKey, &h.Metadata.SourceLabel,
			&h.Metadata.FileType, &h.Metadata.FileName, &uploaded, &h.Metadata.Sequence, &score); err != nil {
			return nil, err
		}
		h.Metadata.UploadDate = uploaded.UTC()
		h.Score = float32(score)
		h.Rank = len(hits) + 1
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
