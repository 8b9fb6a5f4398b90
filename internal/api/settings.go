package api

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds the runtime download defaults, persisted as JSON in
// the state directory. MaxDownloads is carried for clients but not
// enforced by the scheduler.
type Settings struct {
	Quality      string `json:"quality"`
	Format       string `json:"format"`
	MaxDownloads int    `json:"max_downloads"`

	mu   sync.RWMutex
	path string
}

// NewSettings loads settings from stateDir, falling back to defaults
// if no file exists yet.
func NewSettings(stateDir string) (*Settings, error) {
	s := &Settings{
		Quality:      "best",
		Format:       "mp4",
		MaxDownloads: 3,
		path:         filepath.Join(stateDir, "settings.json"),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

func (s *Settings) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, s)
}

// Save writes settings to the JSON file.
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Get returns the current values.
func (s *Settings) Get() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"quality":       s.Quality,
		"format":        s.Format,
		"max_downloads": s.MaxDownloads,
	}
}

// Update validates and applies the provided values.
func (s *Settings) Update(updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := updates["quality"]; ok {
		quality, ok := v.(string)
		if !ok || quality == "" {
			return fmt.Errorf("quality must be a non-empty string")
		}
		s.Quality = quality
	}
	if v, ok := updates["format"]; ok {
		format, ok := v.(string)
		if !ok || format == "" {
			return fmt.Errorf("format must be a non-empty string")
		}
		s.Format = format
	}
	if v, ok := updates["max_downloads"]; ok {
		n, ok := v.(float64) // JSON numbers are float64
		if !ok {
			return fmt.Errorf("max_downloads must be a number")
		}
		if n < 1 || n > 10 {
			return fmt.Errorf("max_downloads must be between 1 and 10")
		}
		s.MaxDownloads = int(n)
	}
	return nil
}
