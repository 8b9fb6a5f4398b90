// Package history persists point-in-time job snapshots. A snapshot is
// written once at creation and never updated in place; the live table
// is the source of truth for in-flight state.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/streamvault/streamvault/internal/extractor"
	"github.com/streamvault/streamvault/internal/jobs"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes the creation-time snapshot of a job.
func (s *Store) Insert(ctx context.Context, j jobs.Job) error {
	formats, err := json.Marshal(j.Formats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO downloads (id, url, title, thumbnail, duration, uploader, view_count, upload_date, formats, status, progress, speed, eta, file_path, file_size, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, j.ID, j.URL, j.Title, j.Thumbnail, j.Duration, j.Uploader, j.ViewCount, j.UploadDate,
		string(formats), string(j.Status), j.Progress, j.Speed, j.ETA, j.FilePath, j.FileSize,
		j.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// List returns up to limit snapshots, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, url, title, thumbnail, duration, uploader, view_count, upload_date, formats, status, progress, speed, eta, file_path, file_size, created_at
FROM downloads
ORDER BY created_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.Job
	for rows.Next() {
		var j jobs.Job
		var status, formats, createdAt string
		if err := rows.Scan(
			&j.ID, &j.URL, &j.Title, &j.Thumbnail, &j.Duration, &j.Uploader, &j.ViewCount, &j.UploadDate,
			&formats, &status, &j.Progress, &j.Speed, &j.ETA, &j.FilePath, &j.FileSize, &createdAt,
		); err != nil {
			return nil, err
		}
		j.Status = jobs.Status(status)
		if formats != "" {
			var fs []extractor.Format
			if err := json.Unmarshal([]byte(formats), &fs); err == nil {
				j.Formats = fs
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			j.CreatedAt = t
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Delete removes one snapshot. Unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	return err
}

// DeleteAll removes every snapshot.
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM downloads`)
	return err
}

var _ jobs.History = (*Store)(nil)
