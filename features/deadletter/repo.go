package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, l *Letter) error
	List(ctx context.Context) ([]Letter, error)
	Get(ctx context.Context, id string) (*Letter, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const columns = `id, topic, document_key, owner_id, reason, error, attempts, payload, created_at`

func (r *PostgresRepo) Save(ctx context.Context, l *Letter) error {
	query := `INSERT INTO dead_letters (topic, document_key, owner_id, reason, error, attempts, payload) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, l.Topic, l.DocumentKey, l.OwnerID, l.Reason, l.Error, l.Attempts, []byte(l.Payload)).
		Scan(&l.ID, &l.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context) ([]Letter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM dead_letters ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []Letter
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *l)
	}
	return letters, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Letter, error) {
	return scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM dead_letters WHERE id = $1`, id))
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Letter, error) {
	var (
		l       Letter
		payload []byte
	)
	if err := s.Scan(&l.ID, &l.Topic, &l.DocumentKey, &l.OwnerID, &l.Reason, &l.Error, &l.Attempts, &payload, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Payload = json.RawMessage(payload)
	return &l, nil
}
