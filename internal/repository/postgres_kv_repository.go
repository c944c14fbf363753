package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresKVRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresKVRepository instantiates the repository over kv_entries.
func NewPostgresKVRepository(pool *pgxpool.Pool) KVRepository {
	return &postgresKVRepository{pool: pool}
}

func (r *postgresKVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.pool == nil {
		return nil, false, ErrBackendClosed
	}
	const query = `SELECT value FROM kv_entries WHERE key=$1`

	var value []byte
	if err := r.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (r *postgresKVRepository) Set(ctx context.Context, key string, value []byte) error {
	if r.pool == nil {
		return ErrBackendClosed
	}
	const query = `
        INSERT INTO kv_entries (key, value, updated_at)
        VALUES ($1,$2,NOW())
        ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`

	_, err := r.pool.Exec(ctx, query, key, value)
	return err
}

func (r *postgresKVRepository) Delete(ctx context.Context, key string) error {
	if r.pool == nil {
		return ErrBackendClosed
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key=$1`, key)
	return err
}
