// Package jobs holds the download job lifecycle: the live job table,
// the statistics counters, and the scheduler that drives transfers.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/streamvault/streamvault/internal/extractor"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one tracked download from submission to terminal state.
// Identity, source and metadata are set once at creation; the
// execution fields mutate as the transfer runs.
type Job struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	Title      string             `json:"title"`
	Thumbnail  string             `json:"thumbnail"`
	Duration   int64              `json:"duration"`
	Uploader   string             `json:"uploader"`
	ViewCount  int64              `json:"view_count"`
	UploadDate string             `json:"upload_date"`
	Formats    []extractor.Format `json:"formats"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Speed    string  `json:"speed"`
	ETA      string  `json:"eta"`
	FilePath string  `json:"file_path"`
	FileSize int64   `json:"file_size"`

	CreatedAt time.Time `json:"created_at"`

	// totalBytes is the transfer's last known size estimate; it feeds
	// FileSize at completion and is never exposed while in flight.
	totalBytes int64
}

// NewJob allocates a pending job for url with the analyzed metadata.
func NewJob(url string, v *extractor.Video) *Job {
	return &Job{
		ID:         uuid.NewString(),
		URL:        url,
		Title:      v.Title,
		Thumbnail:  v.Thumbnail,
		Duration:   v.Duration,
		Uploader:   v.Uploader,
		ViewCount:  v.ViewCount,
		UploadDate: v.UploadDate,
		Formats:    v.Formats,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}
