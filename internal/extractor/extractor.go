// Package extractor wraps the external yt-dlp tool behind a small
// interface: metadata analysis and sink-driven downloads.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// maxPlaylistEntries caps how many playlist entries an analysis
// returns, regardless of the playlist's actual size.
const maxPlaylistEntries = 50

var ErrNoOutputPath = errors.New("tool finished without reporting an output path")

// ExtractionError means the tool could not resolve the URL: bad or
// unsupported link, removed content, network failure reaching the
// source. It is an input failure, not a system fault.
type ExtractionError struct {
	URL    string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract info from %s: %s", e.URL, e.Reason)
}

// IsExtractionError reports whether err is (or wraps) an ExtractionError.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// Format describes one downloadable format of a video.
type Format struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Quality  string `json:"quality"`
	Filesize int64  `json:"filesize"`
	Height   int    `json:"height"`
	Width    int    `json:"width"`
}

// Video is the metadata of a single video.
type Video struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Thumbnail  string   `json:"thumbnail"`
	Duration   int64    `json:"duration"`
	Uploader   string   `json:"uploader"`
	ViewCount  int64    `json:"view_count"`
	UploadDate string   `json:"upload_date"`
	Formats    []Format `json:"formats"`
}

// PlaylistEntry is one video inside a playlist analysis.
type PlaylistEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Duration  int64  `json:"duration"`
	Uploader  string `json:"uploader"`
	ViewCount int64  `json:"view_count"`
}

const (
	KindVideo    = "video"
	KindPlaylist = "playlist"
)

// Analysis is the tagged result of analyzing a URL: either a single
// video (Video set) or a playlist (Title/Entries set).
type Analysis struct {
	Kind    string          `json:"type"`
	Video   *Video          `json:"-"`
	Title   string          `json:"title,omitempty"`
	Entries []PlaylistEntry `json:"entries,omitempty"`
}

// MarshalJSON flattens the video fields into the analysis object, so
// clients see {"type":"video","title":...} rather than a nested record.
func (a *Analysis) MarshalJSON() ([]byte, error) {
	if a.Kind == KindVideo && a.Video != nil {
		return json.Marshal(struct {
			Kind string `json:"type"`
			*Video
		}{a.Kind, a.Video})
	}
	entries := a.Entries
	if entries == nil {
		entries = []PlaylistEntry{}
	}
	return json.Marshal(struct {
		Kind    string          `json:"type"`
		Title   string          `json:"title"`
		Entries []PlaylistEntry `json:"entries"`
	}{a.Kind, a.Title, entries})
}

// Options controls a single download.
type Options struct {
	// Quality is a height ceiling in pixels ("720") or "best".
	Quality string
	// Format selects the container: "mp4", "mp3" (re-encoded at
	// 192kbps), anything else means unconstrained best.
	Format string
	// OutputTemplate is a yt-dlp output template relative to the
	// downloads directory, e.g. "%(title)s.%(ext)s".
	OutputTemplate string
}

// Progress is one periodic progress event during a transfer.
type Progress struct {
	DownloadedBytes int64
	TotalBytes      int64
	Speed           string
	ETA             string
}

// Sink receives download events. Failed is called at most once and
// nothing follows it.
type Sink interface {
	Progress(p Progress)
	Finished(outputPath string)
	Failed(reason string)
}

// Client is the boundary the scheduler talks to.
type Client interface {
	Analyze(ctx context.Context, url string) (*Analysis, error)
	Download(ctx context.Context, url string, opts Options, sink Sink) error
}
