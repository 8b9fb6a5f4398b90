package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	progressPrefix = "progress|"
	destPrefix     = "dest|"

	// Matches the original tool invocation: one progress line per tick.
	progressTemplate = "download:" + progressPrefix +
		"%(progress.downloaded_bytes)s|%(progress.total_bytes)s|%(progress.total_bytes_estimate)s|%(progress.speed)s|%(progress.eta)s"
	destTemplate = "after_move:" + destPrefix + "%(filepath)s"
)

// YtdlpRunner invokes the yt-dlp binary as a child process.
type YtdlpRunner struct {
	Path         string
	DownloadsDir string
	Log          *zap.Logger
}

func NewYtdlpRunner(path, downloadsDir string, log *zap.Logger) *YtdlpRunner {
	if path == "" {
		path = "yt-dlp"
	}
	return &YtdlpRunner{Path: path, DownloadsDir: downloadsDir, Log: log}
}

// ytdlpInfo mirrors the subset of yt-dlp's -J output we consume.
type ytdlpInfo struct {
	Type       string        `json:"_type"`
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Thumbnail  string        `json:"thumbnail"`
	Duration   float64       `json:"duration"`
	Uploader   string        `json:"uploader"`
	ViewCount  int64         `json:"view_count"`
	UploadDate string        `json:"upload_date"`
	URL        string        `json:"url"`
	WebpageURL string        `json:"webpage_url"`
	Formats    []ytdlpFormat `json:"formats"`
	Entries    []ytdlpInfo   `json:"entries"`
}

type ytdlpFormat struct {
	FormatID string          `json:"format_id"`
	Ext      string          `json:"ext"`
	Quality  json.RawMessage `json:"quality"`
	Filesize int64           `json:"filesize"`
	Height   int             `json:"height"`
	Width    int             `json:"width"`
}

// Analyze runs the tool in metadata-only mode and returns a tagged
// video or playlist result. Playlist entries are truncated to the
// first 50.
func (y *YtdlpRunner) Analyze(ctx context.Context, url string) (*Analysis, error) {
	cmd := exec.CommandContext(ctx, y.Path, "-J", "--no-warnings", url)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &ExtractionError{URL: url, Reason: toolFailure(err, stderr.Bytes())}
	}
	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, &ExtractionError{URL: url, Reason: "unreadable tool output: " + err.Error()}
	}
	return toAnalysis(info), nil
}

// toAnalysis converts raw tool output into the tagged result. Playlist
// entries beyond the cap are dropped; each entry's URL prefers the
// canonical webpage URL over the raw media URL.
func toAnalysis(info ytdlpInfo) *Analysis {
	if info.Type == "playlist" || len(info.Entries) > 0 {
		entries := info.Entries
		if len(entries) > maxPlaylistEntries {
			entries = entries[:maxPlaylistEntries]
		}
		out := make([]PlaylistEntry, 0, len(entries))
		for _, e := range entries {
			entryURL := e.WebpageURL
			if entryURL == "" {
				entryURL = e.URL
			}
			out = append(out, PlaylistEntry{
				ID:        e.ID,
				Title:     e.Title,
				URL:       entryURL,
				Thumbnail: e.Thumbnail,
				Duration:  int64(e.Duration),
				Uploader:  e.Uploader,
				ViewCount: e.ViewCount,
			})
		}
		return &Analysis{Kind: KindPlaylist, Title: info.Title, Entries: out}
	}
	return &Analysis{Kind: KindVideo, Video: &Video{
		ID:         info.ID,
		Title:      info.Title,
		Thumbnail:  info.Thumbnail,
		Duration:   int64(info.Duration),
		Uploader:   info.Uploader,
		ViewCount:  info.ViewCount,
		UploadDate: info.UploadDate,
		Formats:    toFormats(info.Formats),
	}}
}

func toFormats(in []ytdlpFormat) []Format {
	out := make([]Format, 0, len(in))
	for _, f := range in {
		out = append(out, Format{
			FormatID: f.FormatID,
			Ext:      f.Ext,
			Quality:  strings.Trim(string(f.Quality), `"`),
			Filesize: f.Filesize,
			Height:   f.Height,
			Width:    f.Width,
		})
	}
	return out
}

// Download runs the tool for one transfer, streaming progress events
// into sink. The call blocks until the transfer ends; callers run it
// in their own goroutine. Failed is invoked at most once, and nothing
// is delivered after it.
func (y *YtdlpRunner) Download(ctx context.Context, url string, opts Options, sink Sink) error {
	args := y.buildArgs(url, opts)
	cmd := exec.CommandContext(ctx, y.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		sink.Failed(err.Error())
		return err
	}
	if err := cmd.Start(); err != nil {
		sink.Failed(err.Error())
		return err
	}

	outputPath := ""
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, progressPrefix):
			if p, ok := parseProgressLine(line); ok {
				sink.Progress(p)
			}
		case strings.HasPrefix(line, destPrefix):
			outputPath = strings.TrimPrefix(line, destPrefix)
		}
	}

	if err := cmd.Wait(); err != nil {
		reason := toolFailure(err, stderr.Bytes())
		y.Log.Warn("download failed", zap.String("url", url), zap.String("reason", reason))
		sink.Failed(reason)
		return fmt.Errorf("yt-dlp: %s", reason)
	}
	if outputPath == "" {
		sink.Failed(ErrNoOutputPath.Error())
		return ErrNoOutputPath
	}
	sink.Finished(outputPath)
	return nil
}

func (y *YtdlpRunner) buildArgs(url string, opts Options) []string {
	args := []string{
		"--newline",
		"--no-warnings",
		"--no-simulate",
		"--progress-template", progressTemplate,
		"--print", destTemplate,
		"-o", filepath.Join(y.DownloadsDir, outputTemplate(opts.OutputTemplate)),
	}
	switch opts.Format {
	case "mp3":
		args = append(args, "-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	case "mp4":
		args = append(args, "-f", "best[ext=mp4]/best")
	default:
		args = append(args, "-f", formatSelector(opts.Quality))
	}
	return append(args, url)
}

func formatSelector(quality string) string {
	if quality == "" || quality == "best" {
		return "best"
	}
	return "best[height<=" + quality + "]/best"
}

// outputTemplate keeps user templates inside the downloads directory.
// Adapted filename hygiene: no absolute paths, no separators.
func outputTemplate(tmpl string) string {
	if tmpl == "" {
		return "%(title)s.%(ext)s"
	}
	if filepath.IsAbs(tmpl) || strings.ContainsAny(tmpl, "/\\") {
		return "%(title)s.%(ext)s"
	}
	return tmpl
}

// parseProgressLine decodes "progress|downloaded|total|estimate|speed|eta".
func parseProgressLine(line string) (Progress, bool) {
	parts := strings.Split(strings.TrimPrefix(line, progressPrefix), "|")
	if len(parts) != 5 {
		return Progress{}, false
	}
	downloaded := parseInt(parts[0])
	total := parseInt(parts[1])
	if total == 0 {
		total = parseInt(parts[2])
	}
	p := Progress{
		DownloadedBytes: downloaded,
		TotalBytes:      total,
	}
	if speed := parseFloat(parts[3]); speed > 0 {
		p.Speed = humanize.Bytes(uint64(speed)) + "/s"
	}
	if eta := parseInt(parts[4]); eta > 0 {
		p.ETA = formatETA(eta)
	}
	return p, true
}

func parseInt(s string) int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(v)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func formatETA(seconds int64) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// toolFailure prefers the last stderr line over the bare exit error.
func toolFailure(err error, stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return err.Error()
}

var _ Client = (*YtdlpRunner)(nil)
