package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const createMirrorTable = `CREATE TABLE IF NOT EXISTS mirror_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteKV mirror stored in a local sqlite file
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLite open (or create) the mirror file at path
func NewSQLite(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite mirror %s: %w", path, err)
	}
	// 單一連線, 避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createMirrorTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create mirror table: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

// Put upsert value
func (s *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mirror_entries(key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Get read value
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM mirror_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete remove one key
func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mirror_entries WHERE key = ?`, key)
	return err
}

// DeletePrefix remove every key starting with prefix
func (s *SQLiteKV) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mirror_entries WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	return err
}

// Keys list keys starting with prefix
func (s *SQLiteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM mirror_entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
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

// Close close the sqlite file
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
