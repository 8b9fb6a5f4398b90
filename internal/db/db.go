// Package db opens the SQLite database backing download history.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS downloads (
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  title TEXT,
  thumbnail TEXT,
  duration INTEGER DEFAULT 0,
  uploader TEXT,
  view_count INTEGER DEFAULT 0,
  upload_date TEXT,
  formats TEXT,
  status TEXT NOT NULL,
  progress REAL DEFAULT 0,
  speed TEXT,
  eta TEXT,
  file_path TEXT,
  file_size INTEGER DEFAULT 0,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
`

// Open opens the SQLite database and ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
