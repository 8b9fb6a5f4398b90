package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/extractor"
)

type fakeExtractor struct {
	analyses   map[string]*extractor.Analysis
	analyzeErr map[string]error
	onDownload func(sink extractor.Sink)
	done       chan struct{}
}

func (f *fakeExtractor) Analyze(ctx context.Context, url string) (*extractor.Analysis, error) {
	if err := f.analyzeErr[url]; err != nil {
		return nil, err
	}
	if a, ok := f.analyses[url]; ok {
		return a, nil
	}
	return nil, &extractor.ExtractionError{URL: url, Reason: "unknown url"}
}

func (f *fakeExtractor) Download(ctx context.Context, url string, opts extractor.Options, sink extractor.Sink) error {
	if f.onDownload != nil {
		f.onDownload(sink)
	}
	if f.done != nil {
		close(f.done)
	}
	return nil
}

type fakeHistory struct {
	mu        sync.Mutex
	inserted  []Job
	deleted   []string
	cleared   int
	insertErr error
}

func (h *fakeHistory) Insert(ctx context.Context, j Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.insertErr != nil {
		return h.insertErr
	}
	h.inserted = append(h.inserted, j)
	return nil
}

func (h *fakeHistory) List(ctx context.Context, limit int) ([]Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Job, 0, len(h.inserted))
	for i := len(h.inserted) - 1; i >= 0 && len(out) < limit; i-- {
		keep := true
		for _, id := range h.deleted {
			if h.inserted[i].ID == id {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, h.inserted[i])
		}
	}
	return out, nil
}

func (h *fakeHistory) Delete(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, id)
	return nil
}

func (h *fakeHistory) DeleteAll(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared++
	h.inserted = nil
	return nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []any
}

func (h *fakeHub) Publish(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, v)
}

func (h *fakeHub) all() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.events...)
}

func videoAnalysis(title string) *extractor.Analysis {
	return &extractor.Analysis{Kind: extractor.KindVideo, Video: &extractor.Video{
		Title:     title,
		Thumbnail: "https://img.example/" + title + ".jpg",
		Uploader:  "channel",
		ViewCount: 7,
	}}
}

func newTestScheduler(ex extractor.Client) (*Scheduler, *Store, *fakeHistory, *fakeHub) {
	live := NewStore()
	hist := &fakeHistory{}
	h := &fakeHub{}
	s := NewScheduler(ex, live, hist, NewCounters(), h, nil, zap.NewNop())
	return s, live, hist, h
}

func TestSubmitReturnsAnalyzedMetadata(t *testing.T) {
	ex := &fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/v": videoAnalysis("my clip"),
	}}
	s, live, hist, _ := newTestScheduler(ex)

	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, "my clip", job.Title)
	require.Equal(t, "channel", job.Uploader)
	require.Equal(t, "https://img.example/my clip.jpg", job.Thumbnail)
	require.Equal(t, StatusPending, job.Status)

	stats := s.Stats()
	require.Equal(t, 1, stats.TotalDownloads)
	require.Equal(t, 1, stats.ActiveDownloads)

	live.mu.RLock()
	defer live.mu.RUnlock()
	require.Len(t, live.jobs, 1)

	hist.mu.Lock()
	defer hist.mu.Unlock()
	require.Len(t, hist.inserted, 1)
	require.Equal(t, job.ID, hist.inserted[0].ID)
}

func TestSubmitRejectsPlaylistURL(t *testing.T) {
	ex := &fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/list": {Kind: extractor.KindPlaylist, Title: "mix"},
	}}
	s, _, _, _ := newTestScheduler(ex)

	_, err := s.Submit(context.Background(), "https://example.com/list", SubmitOptions{})
	require.Error(t, err)
	require.True(t, extractor.IsExtractionError(err))
	require.Zero(t, s.Stats().TotalDownloads)
}

func TestSubmitSurvivesPersistenceFailure(t *testing.T) {
	ex := &fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/v": videoAnalysis("clip"),
	}}
	live := NewStore()
	hist := &fakeHistory{insertErr: errors.New("store unreachable")}
	s := NewScheduler(ex, live, hist, NewCounters(), &fakeHub{}, nil, zap.NewNop())

	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)
	_, ok := live.Get(job.ID)
	require.True(t, ok, "live registration must not depend on persistence")
}

func TestSubmitBulkPartialFailure(t *testing.T) {
	ex := &fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/a": videoAnalysis("a"),
		"https://example.com/c": videoAnalysis("c"),
	}}
	s, _, _, _ := newTestScheduler(ex)

	urls := []string{"https://example.com/a", "https://example.com/bad", "https://example.com/c"}
	results := s.SubmitBulk(context.Background(), urls, SubmitOptions{})
	require.Len(t, results, 3)
	require.Equal(t, "started", results[0].Status)
	require.NotEmpty(t, results[1].Error)
	require.Equal(t, "https://example.com/bad", results[1].URL)
	require.Equal(t, "started", results[2].Status, "failure must not abort later submissions")
	require.Equal(t, 2, s.Stats().TotalDownloads)
}

func TestSubmitPlaylistBoundedByAnalysisCap(t *testing.T) {
	entries := make([]extractor.PlaylistEntry, 50)
	analyses := map[string]*extractor.Analysis{}
	for i := range entries {
		u := "https://example.com/e" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		entries[i] = extractor.PlaylistEntry{URL: u, Title: "e"}
		analyses[u] = videoAnalysis("e")
	}
	analyses["https://example.com/list"] = &extractor.Analysis{
		Kind: extractor.KindPlaylist, Title: "big mix", Entries: entries,
	}
	ex := &fakeExtractor{analyses: analyses}
	s, _, _, _ := newTestScheduler(ex)

	// maxVideos above the analysis cap cannot raise the bound.
	out, err := s.SubmitPlaylist(context.Background(), "https://example.com/list", SubmitOptions{}, 200)
	require.NoError(t, err)
	require.Equal(t, "big mix", out.PlaylistTitle)
	require.Equal(t, 50, out.TotalVideos)
	require.Len(t, out.Results, 50)
}

func TestSubmitPlaylistHonorsMaxVideos(t *testing.T) {
	analyses := map[string]*extractor.Analysis{
		"https://example.com/e1": videoAnalysis("e1"),
		"https://example.com/e2": videoAnalysis("e2"),
	}
	analyses["https://example.com/list"] = &extractor.Analysis{
		Kind:  extractor.KindPlaylist,
		Title: "mix",
		Entries: []extractor.PlaylistEntry{
			{URL: "https://example.com/e1"},
			{URL: "https://example.com/e2"},
			{URL: "https://example.com/e3"},
		},
	}
	s, _, _, _ := newTestScheduler(&fakeExtractor{analyses: analyses})

	out, err := s.SubmitPlaylist(context.Background(), "https://example.com/list", SubmitOptions{}, 2)
	require.NoError(t, err)
	require.Equal(t, 3, out.TotalVideos)
	require.Len(t, out.Results, 2)
}

func TestSubmitPlaylistRejectsVideoURL(t *testing.T) {
	s, _, _, _ := newTestScheduler(&fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/v": videoAnalysis("v"),
	}})
	_, err := s.SubmitPlaylist(context.Background(), "https://example.com/v", SubmitOptions{}, 10)
	require.True(t, extractor.IsExtractionError(err))
}

func TestTransferLifecycleCompleted(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(outPath, []byte("0123456789"), 0644))

	done := make(chan struct{})
	ex := &fakeExtractor{
		analyses: map[string]*extractor.Analysis{"https://example.com/v": videoAnalysis("clip")},
		done:     done,
		onDownload: func(sink extractor.Sink) {
			sink.Progress(extractor.Progress{DownloadedBytes: 5, TotalBytes: 10, Speed: "1 MB/s", ETA: "00:05"})
			sink.Progress(extractor.Progress{DownloadedBytes: 10, TotalBytes: 10})
			sink.Finished(outPath)
		},
	}
	s, live, _, h := newTestScheduler(ex)

	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never finished")
	}

	got, ok := live.Get(job.ID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, float64(100), got.Progress)
	require.Equal(t, outPath, got.FilePath)
	require.Equal(t, int64(10), got.FileSize)

	stats := s.Stats()
	require.Equal(t, 1, stats.DoneDownloads)
	require.Equal(t, 0, stats.ActiveDownloads)
	require.Equal(t, int64(10), stats.TotalSize)

	events := h.all()
	require.Len(t, events, 3)
	first, ok := events[0].(ProgressEvent)
	require.True(t, ok)
	require.Equal(t, "download_progress", first.Type)
	require.Equal(t, float64(50), first.Data.Progress)
	last := events[2].(ProgressEvent)
	require.Equal(t, StatusCompleted, last.Data.Status)
}

func TestTransferLifecycleFailed(t *testing.T) {
	done := make(chan struct{})
	ex := &fakeExtractor{
		analyses: map[string]*extractor.Analysis{"https://example.com/v": videoAnalysis("clip")},
		done:     done,
		onDownload: func(sink extractor.Sink) {
			sink.Progress(extractor.Progress{DownloadedBytes: 3, TotalBytes: 10})
			sink.Failed("network gone")
		},
	}
	s, live, _, h := newTestScheduler(ex)

	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)
	<-done

	got, _ := live.Get(job.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, float64(30), got.Progress, "failure leaves progress as-is")

	// Legacy accounting: failures do not release the active slot.
	require.Equal(t, 1, s.Stats().ActiveDownloads)

	events := h.all()
	require.Len(t, events, 2)
	errEvent, ok := events[1].(ErrorEvent)
	require.True(t, ok)
	require.Equal(t, "download_error", errEvent.Type)
	require.Equal(t, "network gone", errEvent.Error)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, _, _, _ := newTestScheduler(&fakeExtractor{})
	require.NoError(t, s.Delete(context.Background(), "no-such-id"))
}

func TestDeleteRemovesLiveRecordAndFile(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(outPath, []byte("x"), 0644))

	done := make(chan struct{})
	ex := &fakeExtractor{
		analyses:   map[string]*extractor.Analysis{"https://example.com/v": videoAnalysis("clip")},
		done:       done,
		onDownload: func(sink extractor.Sink) { sink.Finished(outPath) },
	}
	s, live, hist, _ := newTestScheduler(ex)
	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)
	<-done

	require.NoError(t, s.Delete(context.Background(), job.ID))
	_, ok := live.Get(job.ID)
	require.False(t, ok)
	_, statErr := os.Stat(outPath)
	require.True(t, os.IsNotExist(statErr))
	require.Contains(t, hist.deleted, job.ID)
}

func TestClearHistoryKeepsInFlightJobs(t *testing.T) {
	doneA := make(chan struct{})
	ex := &fakeExtractor{
		analyses: map[string]*extractor.Analysis{
			"https://example.com/a": videoAnalysis("a"),
			"https://example.com/b": videoAnalysis("b"),
		},
	}
	s, live, hist, _ := newTestScheduler(ex)

	ex.done = doneA
	ex.onDownload = func(sink extractor.Sink) { sink.Finished("") }
	jobA, err := s.Submit(context.Background(), "https://example.com/a", SubmitOptions{})
	require.NoError(t, err)
	<-doneA

	ex.done = nil
	ex.onDownload = nil
	jobB, err := s.Submit(context.Background(), "https://example.com/b", SubmitOptions{})
	require.NoError(t, err)
	_, ok := live.UpdateProgress(jobB.ID, 10, "", "", 0)
	require.True(t, ok)

	require.NoError(t, s.ClearHistory(context.Background()))

	_, ok = live.Get(jobA.ID)
	require.False(t, ok, "terminal job must be dropped")
	gotB, ok := live.Get(jobB.ID)
	require.True(t, ok)
	require.Equal(t, StatusDownloading, gotB.Status)

	stats := s.Stats()
	require.Equal(t, 1, stats.TotalDownloads)
	require.Equal(t, 1, stats.ActiveDownloads)
	require.Equal(t, 0, stats.DoneDownloads)
	require.Equal(t, int64(0), stats.TotalSize)

	hist.mu.Lock()
	defer hist.mu.Unlock()
	require.Equal(t, 1, hist.cleared)
}

func TestListDownloadsMergeFavorsLive(t *testing.T) {
	ex := &fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/v": videoAnalysis("clip"),
	}}
	s, live, _, _ := newTestScheduler(ex)
	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)
	_, ok := live.UpdateProgress(job.ID, 55, "3 MB/s", "00:09", 0)
	require.True(t, ok)

	out, err := s.ListDownloads(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, StatusDownloading, out[0].Status, "live state wins over the pending snapshot")
	require.Equal(t, float64(55), out[0].Progress)
}

func TestFilePathOnlyForCompletedJobs(t *testing.T) {
	s, live, _, _ := newTestScheduler(&fakeExtractor{})
	_, err := s.FilePath("missing")
	require.ErrorIs(t, err, ErrNotFound)

	j := testJob("https://example.com/v")
	live.Put(j)
	_, err = s.FilePath(j.ID)
	require.ErrorIs(t, err, ErrNotFound, "pending job has no file")

	dir := t.TempDir()
	outPath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(outPath, []byte("x"), 0644))
	live.Complete(j.ID, outPath, 1)

	got, err := s.FilePath(j.ID)
	require.NoError(t, err)
	require.Equal(t, outPath, got)

	// Externally removed file turns into not-found.
	require.NoError(t, os.Remove(outPath))
	_, err = s.FilePath(j.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotShape(t *testing.T) {
	ex := &fakeExtractor{analyses: map[string]*extractor.Analysis{
		"https://example.com/v": videoAnalysis("clip"),
	}}
	s, _, _, _ := newTestScheduler(ex)
	job, err := s.Submit(context.Background(), "https://example.com/v", SubmitOptions{})
	require.NoError(t, err)

	snap, ok := s.Snapshot().(SnapshotEvent)
	require.True(t, ok)
	require.Equal(t, "stats_update", snap.Type)
	require.Equal(t, 1, snap.Stats.TotalDownloads)
	require.Contains(t, snap.ActiveDownloads, job.ID)
}
