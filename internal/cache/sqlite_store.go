package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteFileName 是 StoragePath 目录下的数据库文件名。
const SQLiteFileName = "meteo-cache.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket    TEXT NOT NULL,
	url       TEXT NOT NULL,
	status    INTEGER NOT NULL,
	header    TEXT NOT NULL,
	body      BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (bucket, url)
);
`

// NewSQLiteStorage 在 dir 下打开（或创建）SQLite 数据库作为桶存储。
func NewSQLiteStorage(dir string) (Storage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	dsn := filepath.Join(filepath.Clean(dir), SQLiteFileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

type sqliteBucket struct {
	db   *sql.DB
	name string
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validBucketName(name) {
		return nil, ErrInvalidBucket
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return &sqliteBucket{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Lookup(ctx context.Context, name string) (Bucket, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &sqliteBucket{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM buckets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (b *sqliteBucket) Name() string {
	return b.name
}

func (b *sqliteBucket) Match(ctx context.Context, url string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE bucket = ? AND url = ?`,
		b.name, url).Scan(&status, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		URL:      url,
		Status:   status,
		Body:     body,
		StoredAt: time.Unix(0, storedAt).UTC(),
	}
	if header != "" {
		var h http.Header
		if err := json.Unmarshal([]byte(header), &h); err != nil {
			return nil, fmt.Errorf("decode cache header: %w", err)
		}
		entry.Header = h
	}
	return entry, nil
}

func (b *sqliteBucket) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return err
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	_, err = b.db.ExecContext(ctx, `
INSERT INTO entries (bucket, url, status, header, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(bucket, url) DO UPDATE SET
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at`,
		b.name, entry.URL, entry.Status, string(header), body, storedAt.UnixNano())
	return err
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, `SELECT url FROM entries WHERE bucket = ? ORDER BY url`, b.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
