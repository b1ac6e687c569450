package document

import (
	"context"
	"database/sql"
	"errors"
)

// ErrOwnerConflict is returned when a key is already recorded for another owner.
var ErrOwnerConflict = errors.New("document key belongs to another owner")

type Repository interface {
	Upsert(ctx context.Context, d *Document) error
	ListByOwner(ctx context.Context, ownerID string) ([]Document, error)
	Get(ctx context.Context, ownerID, documentKey string) (*Document, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Upsert records a document, overwriting the counts of an earlier run of the
// same key so redelivered persistence jobs leave one row. A row owned by
// someone else is left untouched and ErrOwnerConflict returned.
func (r *PostgresRepo) Upsert(ctx context.Context, d *Document) error {
	query := `INSERT INTO documents (document_key, owner_id, file_name, file_type, size, chunk_count, text_length)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_key) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			file_type = EXCLUDED.file_type,
			size = EXCLUDED.size,
			chunk_count = EXCLUDED.chunk_count,
			text_length = EXCLUDED.text_length,
			updated_at = NOW()
		WHERE documents.owner_id = EXCLUDED.owner_id
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, d.DocumentKey, d.OwnerID, d.FileName, d.FileType, d.Size, d.ChunkCount, d.TextLength).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerConflict
	}
	return err
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	query := `SELECT document_key, owner_id, file_name, file_type, size, chunk_count, text_length, created_at, updated_at FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.DocumentKey, &d.OwnerID, &d.FileName, &d.FileType, &d.Size, &d.ChunkCount, &d.TextLength, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, ownerID, documentKey string) (*Document, error) {
	d := &Document{}
	query := `SELECT document_key, owner_id, file_name, file_type, size, chunk_count, text_length, created_at, updated_at FROM documents WHERE document_key = $1 AND owner_id = $2`
	err := r.db.QueryRowContext(ctx, query, documentKey, ownerID).
		Scan(&d.DocumentKey, &d.OwnerID, &d.FileName, &d.FileType, &d.Size, &d.ChunkCount, &d.TextLength, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}
