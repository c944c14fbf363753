package repository

import (
	"context"
	"database/sql"
	"errors"
)

type sqliteKVRepository struct {
	db *sql.DB
}

// NewSQLiteKVRepository instantiates the repository over kv_entries.
func NewSQLiteKVRepository(db *sql.DB) KVRepository {
	return &sqliteKVRepository{db: db}
}

func (r *sqliteKVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.db == nil {
		return nil, false, ErrBackendClosed
	}
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *sqliteKVRepository) Set(ctx context.Context, key string, value []byte) error {
	if r.db == nil {
		return ErrBackendClosed
	}
	const query = `
        INSERT INTO kv_entries (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.ExecContext(ctx, query, key, value)
	return err
}

func (r *sqliteKVRepository) Delete(ctx context.Context, key string) error {
	if r.db == nil {
		return ErrBackendClosed
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	return err
}
