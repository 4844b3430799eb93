package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/certen/intent-solver/pkg/logging"
)

// PostgresStore is a third storage backend for deployments that already
// run Postgres for other state. It implements the same Store interface
// as MemoryStore/FileStore.
type PostgresStore struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

// PostgresOption configures a PostgresStore at construction.
type PostgresOption func(*PostgresStore)

// WithLogger overrides the default component logger.
func WithLogger(logger *logging.Logger) PostgresOption {
	return func(s *PostgresStore) { s.logger = logger }
}

// NewPostgresStore opens a connection pool against databaseURL and ensures
// the backing table exists.
func NewPostgresStore(ctx context.Context, databaseURL string, opts ...PostgresOption) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("storage: postgres backend requires a database URL")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &PostgresStore{
		db:     db,
		logger: logging.Default().WithComponent("storage").With("backend", "postgres"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create kv table: %w", err)
	}

	s.logger.Info("connected to postgres storage backend")
	return s, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS solver_kv (
	key         TEXT PRIMARY KEY,
	value       BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ
)`

func (s *PostgresStore) Get(key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullTime
	err := s.db.QueryRow(`SELECT value, expires_at FROM solver_kv WHERE key = $1`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: postgres get: %w", err)
	}
	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		_, _ = s.db.Exec(`DELETE FROM solver_kv WHERE key = $1`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *PostgresStore) Set(key string, value []byte) error {
	return s.SetWithTTL(key, value, 0)
}

func (s *PostgresStore) SetWithTTL(key string, value []byte, ttlSeconds int64) error {
	var expiresAt interface{}
	if ttlSeconds > 0 {
		expiresAt = s.now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	_, err := s.db.Exec(`
		INSERT INTO solver_kv (key, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $4
	`, key, value, s.now(), expiresAt)
	if err != nil {
		return fmt.Errorf("storage: postgres set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM solver_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("storage: postgres delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) ListKeys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM solver_kv WHERE key LIKE $1`, strings.ReplaceAll(prefix, "%", `\%`)+"%")
	if err != nil {
		return nil, fmt.Errorf("storage: postgres list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetBatch(keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(`SELECT key, value, expires_at FROM solver_kv WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("storage: postgres batch get: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v []byte
		var expiresAt sql.NullTime
		if err := rows.Scan(&k, &v, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid && s.now().After(expiresAt.Time) {
			continue
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetBatch(entries map[string][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: postgres begin batch: %w", err)
	}
	defer tx.Rollback()
	for k, v := range entries {
		if _, err := tx.Exec(`
			INSERT INTO solver_kv (key, value, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = NULL
		`, k, v, s.now()); err != nil {
			return fmt.Errorf("storage: postgres batch set: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteBatch(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM solver_kv WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("storage: postgres batch delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) AtomicUpdate(key string, fn UpdateFunc) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: postgres begin tx: %w", err)
	}
	defer tx.Rollback()

	var old []byte
	var expiresAt sql.NullTime
	err = tx.QueryRow(`SELECT value, expires_at FROM solver_kv WHERE key = $1 FOR UPDATE`, key).Scan(&old, &expiresAt)
	existed := err == nil
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("storage: postgres locked read: %w", err)
	}
	if existed && expiresAt.Valid && s.now().After(expiresAt.Time) {
		existed = false
		old = nil
	}

	next, err := fn(old, existed)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO solver_kv (key, value, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2
	`, key, next, s.now()); err != nil {
		return fmt.Errorf("storage: postgres atomic write: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
