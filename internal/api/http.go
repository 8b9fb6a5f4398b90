// Package api is the HTTP and WebSocket surface over the scheduler.
package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/extractor"
	"github.com/streamvault/streamvault/internal/hub"
	"github.com/streamvault/streamvault/internal/jobs"
)

// Orchestrator is what the transport needs from the core.
type Orchestrator interface {
	Analyze(ctx context.Context, url string) (*extractor.Analysis, error)
	Submit(ctx context.Context, url string, opts jobs.SubmitOptions) (*jobs.Job, error)
	SubmitBulk(ctx context.Context, urls []string, opts jobs.SubmitOptions) []jobs.SubmitResult
	SubmitPlaylist(ctx context.Context, url string, opts jobs.SubmitOptions, maxVideos int) (*jobs.PlaylistSubmission, error)
	ListDownloads(ctx context.Context) ([]jobs.Job, error)
	Delete(ctx context.Context, id string) error
	ClearHistory(ctx context.Context) error
	Stats() jobs.Stats
	FilePath(id string) (string, error)
}

type Server struct {
	Core         Orchestrator
	Hub          *hub.Hub
	Settings     *Settings
	DownloadsDir string
	Gatherer     prometheus.Gatherer
	Log          *zap.Logger
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.Log), CORS())

	if s.DownloadsDir != "" {
		r.Static("/downloads", s.DownloadsDir)
	}
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/", s.handleRoot)
		apiGroup.GET("/stats", s.handleStats)
		apiGroup.POST("/analyze", s.handleAnalyze)
		apiGroup.POST("/download", s.handleDownload)
		apiGroup.POST("/download/bulk", s.handleBulk)
		apiGroup.POST("/download/playlist", s.handlePlaylist)
		apiGroup.GET("/download/:id/file", s.handleFile)
		apiGroup.GET("/downloads", s.handleList)
		apiGroup.DELETE("/downloads/:id", s.handleDelete)
		apiGroup.DELETE("/downloads", s.handleClear)
		apiGroup.GET("/settings", s.handleGetSettings)
		apiGroup.PUT("/settings", s.handlePutSettings)
		apiGroup.GET("/ws", s.handleWS)
	}
	return r
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "StreamVault Video Downloader API"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Core.Stats())
}

type analyzeRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "URL is required"})
		return
	}
	analysis, err := s.Core.Analyze(c.Request.Context(), req.URL)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

type downloadRequest struct {
	URL              string `json:"url" binding:"required"`
	Quality          string `json:"quality"`
	Format           string `json:"format"`
	FilenameTemplate string `json:"filename_template"`
	MaxDownloads     int    `json:"max_downloads"`
}

func (r *downloadRequest) options(defaults *Settings) jobs.SubmitOptions {
	opts := jobs.SubmitOptions{
		Quality:          r.Quality,
		Format:           r.Format,
		FilenameTemplate: r.FilenameTemplate,
		MaxDownloads:     r.MaxDownloads,
	}
	if defaults != nil {
		defaults.mu.RLock()
		if opts.Quality == "" {
			opts.Quality = defaults.Quality
		}
		if opts.Format == "" {
			opts.Format = defaults.Format
		}
		if opts.MaxDownloads == 0 {
			opts.MaxDownloads = defaults.MaxDownloads
		}
		defaults.mu.RUnlock()
	}
	if opts.FilenameTemplate == "" {
		opts.FilenameTemplate = "%(title)s.%(ext)s"
	}
	return opts
}

func (s *Server) handleDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	job, err := s.Core.Submit(c.Request.Context(), req.URL, req.options(s.Settings))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": job.ID, "status": "started", "info": job})
}

type bulkRequest struct {
	URLs    []string `json:"urls" binding:"required"`
	Quality string   `json:"quality"`
	Format  string   `json:"format"`
}

func (s *Server) handleBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	opts := (&downloadRequest{Quality: req.Quality, Format: req.Format}).options(s.Settings)
	results := s.Core.SubmitBulk(c.Request.Context(), req.URLs, opts)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type playlistRequest struct {
	URL       string `json:"url" binding:"required"`
	Quality   string `json:"quality"`
	Format    string `json:"format"`
	MaxVideos int    `json:"max_videos"`
}

func (s *Server) handlePlaylist(c *gin.Context) {
	var req playlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.MaxVideos <= 0 {
		req.MaxVideos = 50
	}
	opts := (&downloadRequest{Quality: req.Quality, Format: req.Format}).options(s.Settings)
	submission, err := s.Core.SubmitPlaylist(c.Request.Context(), req.URL, opts, req.MaxVideos)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (s *Server) handleList(c *gin.Context) {
	downloads, err := s.Core.ListDownloads(c.Request.Context())
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if downloads == nil {
		downloads = []jobs.Job{}
	}
	c.JSON(http.StatusOK, downloads)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.Core.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Download deleted successfully"})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.Core.ClearHistory(c.Request.Context()); err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "History cleared successfully"})
}

func (s *Server) handleFile(c *gin.Context) {
	path, err := s.Core.FilePath(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "File not found"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.Settings.Get())
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.Settings.Update(updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := s.Settings.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Settings.Get())
}

// writeErr maps the error taxonomy onto HTTP statuses: extraction
// failures are the client's input (400), unknown ids are 404,
// anything else is an internal fault.
func (s *Server) writeErr(c *gin.Context, err error) {
	switch {
	case extractor.IsExtractionError(err):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	default:
		s.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}
