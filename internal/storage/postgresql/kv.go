package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yt-analyzer-client/internal/storage"
)

// KVStore keeps the collections in a single-table key/value schema.
// Used when job history should be shared between machines and Redis
// is not around.
type KVStore struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func NewKVStore(ctx context.Context, pool *pgxpool.Pool) (*KVStore, error) {
	const q = `
CREATE TABLE IF NOT EXISTS analyzer_kv (
    key        text PRIMARY KEY,
    value      text NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
);
`
	if _, err := pool.Exec(ctx, q); err != nil {
		return nil, err
	}
	return &KVStore{pool: pool}, nil
}

func (s *KVStore) GetItem(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM analyzer_kv WHERE key = $1;`

	var value string
	if err := s.pool.QueryRow(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *KVStore) SetItem(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO analyzer_kv (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now();
`
	_, err := s.pool.Exec(ctx, q, key, value)
	return err
}
