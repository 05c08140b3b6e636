package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultTimeout = 30 * time.Second

// PostgresStore keeps one bucket of JSON documents in kv_entries. The cas
// column is the stamp and is bumped on every write.
type PostgresStore struct {
	pool    *pgxpool.Pool
	bucket  string
	catalog *Catalog
	timeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, bucket string, catalog *Catalog, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PostgresStore{pool: pool, bucket: bucket, catalog: catalog, timeout: timeout}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kv_entries WHERE bucket=$1 AND key=$2)`,
		s.bucket, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return exists, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		value []byte
		cas   int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT value, cas FROM kv_entries WHERE bucket=$1 AND key=$2`,
		s.bucket, key,
	).Scan(&value, &cas)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return Entry{Value: json.RawMessage(value), Stamp: Stamp(cas)}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, key string, value any) error {
	payload, err := encode(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO kv_entries (bucket, key, value, cas, updated_at) VALUES ($1, $2, $3, 1, NOW())`,
		s.bucket, key, payload,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert %s: %w", key, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Replace(ctx context.Context, key string, value any, stamp Stamp) error {
	payload, err := encode(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE kv_entries SET value=$3, cas=cas+1, updated_at=NOW() WHERE bucket=$1 AND key=$2 AND cas=$4`,
		s.bucket, key, payload, int64(stamp),
	)
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kv_entries WHERE bucket=$1 AND key=$2)`,
		s.bucket, key,
	).Scan(&exists); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("replace %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("replace %s: %w", key, ErrConflict)
}

func (s *PostgresStore) Upsert(ctx context.Context, key string, value any) error {
	payload, err := encode(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO kv_entries (bucket, key, value, cas, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (bucket, key) DO UPDATE
		SET value = EXCLUDED.value, cas = kv_entries.cas + 1, updated_at = EXCLUDED.updated_at
	`, s.bucket, key, payload)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Query runs a named query from the catalog. Every query selects a single
// JSON column; params bind to @name placeholders.
func (s *PostgresStore) Query(ctx context.Context, name string, params map[string]any) ([]json.RawMessage, error) {
	sql, ok := s.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, pgx.NamedArgs(params))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()

	var results []json.RawMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		results = append(results, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	return results, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
