package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/extractor"
	"github.com/streamvault/streamvault/internal/metrics"
)

// History is the durability layer for job snapshots. It is auxiliary:
// a failing history store never blocks live operation.
type History interface {
	Insert(ctx context.Context, j Job) error
	List(ctx context.Context, limit int) ([]Job, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Publisher fans an event out to live subscribers.
type Publisher interface {
	Publish(v any)
}

// historyLimit caps how many persisted records a listing reads.
const historyLimit = 100

// SubmitOptions is the client-facing option bag for one download.
// MaxDownloads is accepted and carried but not enforced server-side.
type SubmitOptions struct {
	Quality          string `json:"quality"`
	Format           string `json:"format"`
	FilenameTemplate string `json:"filename_template"`
	MaxDownloads     int    `json:"max_downloads"`
}

func (o SubmitOptions) extractorOptions() extractor.Options {
	return extractor.Options{
		Quality:        o.Quality,
		Format:         o.Format,
		OutputTemplate: o.FilenameTemplate,
	}
}

// SubmitResult is one entry of a bulk or playlist submission. Either
// the started fields or the error fields are set, never both.
type SubmitResult struct {
	VideoID string `json:"video_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Info    *Job   `json:"info,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PlaylistSubmission summarizes a playlist fan-out.
type PlaylistSubmission struct {
	PlaylistTitle string         `json:"playlist_title"`
	TotalVideos   int            `json:"total_videos"`
	Downloading   int            `json:"downloading"`
	Results       []SubmitResult `json:"results"`
}

// ProgressEvent is the incremental broadcast sent on every job
// mutation.
type ProgressEvent struct {
	Type    string `json:"type"`
	VideoID string `json:"video_id"`
	Data    Job    `json:"data"`
	Stats   Stats  `json:"stats"`
}

// ErrorEvent is broadcast when a transfer fails.
type ErrorEvent struct {
	Type    string `json:"type"`
	VideoID string `json:"video_id"`
	Error   string `json:"error"`
}

// SnapshotEvent is the periodic full-state heartbeat.
type SnapshotEvent struct {
	Type            string         `json:"type"`
	Stats           Stats          `json:"stats"`
	ActiveDownloads map[string]Job `json:"active_downloads"`
}

const (
	eventProgress = "download_progress"
	eventError    = "download_error"
	eventSnapshot = "stats_update"
)

// Scheduler accepts job requests, dispatches each transfer to its own
// goroutine, and applies progress callbacks back onto the live table,
// the counters and the broadcast hub.
type Scheduler struct {
	extractor extractor.Client
	live      *Store
	history   History
	stats     *Counters
	hub       Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger

	// handles keeps a cancel func per dispatched job. Nothing calls
	// them yet: delete only removes bookkeeping. They exist so a
	// cancellation API can be added without re-architecture.
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

func NewScheduler(ex extractor.Client, live *Store, hist History, stats *Counters, hub Publisher, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	return &Scheduler{
		extractor: ex,
		live:      live,
		history:   hist,
		stats:     stats,
		hub:       hub,
		metrics:   m,
		log:       log,
		handles:   make(map[string]context.CancelFunc),
	}
}

// Analyze resolves a URL to video or playlist metadata.
func (s *Scheduler) Analyze(ctx context.Context, url string) (*extractor.Analysis, error) {
	return s.extractor.Analyze(ctx, url)
}

// Submit resolves metadata for a single-video URL, registers a
// pending job and dispatches the transfer. The caller gets the job id
// and initial metadata immediately; the transfer is not awaited.
func (s *Scheduler) Submit(ctx context.Context, url string, opts SubmitOptions) (*Job, error) {
	analysis, err := s.extractor.Analyze(ctx, url)
	if err != nil {
		return nil, err
	}
	if analysis.Kind != extractor.KindVideo {
		return nil, &extractor.ExtractionError{URL: url, Reason: "URL must be a single video"}
	}

	job := NewJob(url, analysis.Video)
	s.live.Put(job)
	s.stats.JobCreated()
	s.metrics.JobSubmitted()

	if err := s.history.Insert(ctx, *job); err != nil {
		// Durability is best-effort; the live table stays authoritative.
		s.log.Error("persist job snapshot", zap.String("id", job.ID), zap.Error(err))
	}

	dlCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.handles[job.ID] = cancel
	s.mu.Unlock()

	s.log.Info("job dispatched",
		zap.String("id", job.ID),
		zap.String("url", url),
		zap.String("title", job.Title))
	go s.run(dlCtx, job.ID, url, opts.extractorOptions())

	cp := *job
	return &cp, nil
}

func (s *Scheduler) run(ctx context.Context, id, url string, opts extractor.Options) {
	defer func() {
		s.mu.Lock()
		delete(s.handles, id)
		s.mu.Unlock()
	}()
	_ = s.extractor.Download(ctx, url, opts, &jobSink{s: s, id: id})
}

// SubmitBulk submits each URL in order. A failing URL becomes an
// inline error entry; the rest still run.
func (s *Scheduler) SubmitBulk(ctx context.Context, urls []string, opts SubmitOptions) []SubmitResult {
	results := make([]SubmitResult, 0, len(urls))
	for _, url := range urls {
		job, err := s.Submit(ctx, url, opts)
		if err != nil {
			results = append(results, SubmitResult{URL: url, Error: err.Error()})
			continue
		}
		results = append(results, SubmitResult{VideoID: job.ID, Status: "started", Info: job})
	}
	return results
}

// SubmitPlaylist resolves a playlist URL and submits up to maxVideos
// of its entries, with the same partial-failure semantics as bulk.
// The analysis itself caps entries at 50, so that bound dominates.
func (s *Scheduler) SubmitPlaylist(ctx context.Context, url string, opts SubmitOptions, maxVideos int) (*PlaylistSubmission, error) {
	analysis, err := s.extractor.Analyze(ctx, url)
	if err != nil {
		return nil, err
	}
	if analysis.Kind != extractor.KindPlaylist {
		return nil, &extractor.ExtractionError{URL: url, Reason: "URL must be a playlist or channel"}
	}
	entries := analysis.Entries
	if maxVideos > 0 && len(entries) > maxVideos {
		entries = entries[:maxVideos]
	}
	results := make([]SubmitResult, 0, len(entries))
	for _, entry := range entries {
		job, err := s.Submit(ctx, entry.URL, opts)
		if err != nil {
			results = append(results, SubmitResult{URL: entry.URL, Error: err.Error()})
			continue
		}
		results = append(results, SubmitResult{VideoID: job.ID, Status: "started", Info: job})
	}
	return &PlaylistSubmission{
		PlaylistTitle: analysis.Title,
		TotalVideos:   len(analysis.Entries),
		Downloading:   len(results),
		Results:       results,
	}, nil
}

// ListDownloads merges the persisted history (newest first, capped)
// with the live table; the live record wins on conflict.
func (s *Scheduler) ListDownloads(ctx context.Context) ([]Job, error) {
	persisted, err := s.history.List(ctx, historyLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(persisted))
	for _, p := range persisted {
		if live, ok := s.live.Get(p.ID); ok {
			out = append(out, live)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete removes the persisted record and the live entry, and
// best-effort deletes the output file. Deleting an unknown id is a
// no-op. It does not stop an in-flight transfer.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.history.Delete(ctx, id); err != nil {
		return err
	}
	if job, ok := s.live.Get(id); ok {
		if job.FilePath != "" {
			if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
				s.log.Warn("delete output file", zap.String("id", id), zap.Error(err))
			}
		}
		s.live.Delete(id)
	}
	s.log.Info("job deleted", zap.String("id", id))
	return nil
}

// ClearHistory drops all persisted records and the terminal live
// jobs, then recomputes the counters from what is left. In-flight
// jobs survive untouched.
func (s *Scheduler) ClearHistory(ctx context.Context) error {
	if err := s.history.DeleteAll(ctx); err != nil {
		return err
	}
	remaining := s.live.DropTerminal()
	s.stats.Reset(remaining)
	s.log.Info("history cleared", zap.Int("remaining_jobs", len(remaining)))
	return nil
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return s.stats.Snapshot()
}

// FilePath resolves a completed job's output file for serving.
func (s *Scheduler) FilePath(id string) (string, error) {
	job, ok := s.live.Get(id)
	if !ok || job.Status != StatusCompleted || job.FilePath == "" {
		return "", ErrNotFound
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, job.FilePath)
	}
	return job.FilePath, nil
}

// Snapshot builds the heartbeat payload: current stats plus the full
// live table.
func (s *Scheduler) Snapshot() any {
	return SnapshotEvent{
		Type:            eventSnapshot,
		Stats:           s.stats.Snapshot(),
		ActiveDownloads: s.live.Snapshot(),
	}
}

// jobSink wires one transfer's progress callbacks onto the job
// record, the counters and the hub.
type jobSink struct {
	s  *Scheduler
	id string
}

func (k *jobSink) Progress(p extractor.Progress) {
	percent := 0.0
	if p.TotalBytes > 0 {
		percent = float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
		percent = float64(int(percent*10+0.5)) / 10
	}
	job, ok := k.s.live.UpdateProgress(k.id, percent, p.Speed, p.ETA, p.TotalBytes)
	if !ok {
		return
	}
	k.s.hub.Publish(ProgressEvent{
		Type:    eventProgress,
		VideoID: k.id,
		Data:    job,
		Stats:   k.s.stats.Snapshot(),
	})
}

func (k *jobSink) Finished(outputPath string) {
	size := int64(0)
	if fi, err := os.Stat(outputPath); err == nil {
		size = fi.Size()
	}
	job, ok := k.s.live.Complete(k.id, outputPath, size)
	if !ok {
		return
	}
	k.s.stats.JobCompleted(job.FileSize)
	k.s.metrics.JobCompleted(job.FileSize)
	k.s.log.Info("job completed",
		zap.String("id", k.id),
		zap.String("file", outputPath),
		zap.Int64("size", job.FileSize))
	k.s.hub.Publish(ProgressEvent{
		Type:    eventProgress,
		VideoID: k.id,
		Data:    job,
		Stats:   k.s.stats.Snapshot(),
	})
}

func (k *jobSink) Failed(reason string) {
	if _, ok := k.s.live.Fail(k.id); !ok {
		return
	}
	k.s.stats.JobFailed()
	k.s.metrics.JobFailed()
	k.s.log.Warn("job failed", zap.String("id", k.id), zap.String("reason", reason))
	k.s.hub.Publish(ErrorEvent{
		Type:    eventError,
		VideoID: k.id,
		Error:   reason,
	})
}
