// Package config loads daemon configuration from the environment.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds everything the daemon needs to start.
type Config struct {
	HTTPAddr     string
	StateDir     string
	DBPath       string
	DownloadsDir string
	YtdlpPath    string
	LogLevel     string
}

// Load reads SV_* environment variables, falling back to defaults.
// A .env file in the working directory is loaded first if present.
func Load() Config {
	_ = godotenv.Load()

	stateDir := getenv("SV_STATE_DIR", "./state")
	return Config{
		HTTPAddr:     getenv("SV_HTTP_ADDR", "0.0.0.0:8080"),
		StateDir:     stateDir,
		DBPath:       getenv("SV_DB", filepath.Join(stateDir, "streamvault.db")),
		DownloadsDir: getenv("SV_DOWNLOADS_DIR", "./downloads"),
		YtdlpPath:    getenv("SV_YTDLP_PATH", "yt-dlp"),
		LogLevel:     getenv("SV_LOG_LEVEL", "info"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
