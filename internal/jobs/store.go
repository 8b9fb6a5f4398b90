package jobs

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("job not found")

// Store is the authoritative live job table. All access goes through
// it; callers only ever see copies, so the progress-writing goroutine
// and concurrent readers cannot race on a record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

func (s *Store) Put(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
}

func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// List returns copies of every live job.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Snapshot returns a copy of the whole table keyed by id, for the
// heartbeat message.
func (s *Store) Snapshot() map[string]Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Job, len(s.jobs))
	for id, j := range s.jobs {
		out[id] = *j
	}
	return out
}

// UpdateProgress applies one progress event. Progress is monotonic
// while downloading: a late or duplicate event can never move the
// percentage backwards. Updates against terminal or unknown jobs are
// dropped.
func (s *Store) UpdateProgress(id string, progress float64, speed, eta string, totalBytes int64) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	j.Status = StatusDownloading
	if progress > j.Progress {
		j.Progress = progress
	}
	j.Speed = speed
	j.ETA = eta
	if totalBytes > 0 {
		j.totalBytes = totalBytes
	}
	return *j, true
}

// Complete marks the terminal completed state: progress 100, the
// resolved output path, and the final size. If size is unknown the
// last transfer estimate is used.
func (s *Store) Complete(id, path string, size int64) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.Speed = ""
	j.ETA = ""
	j.FilePath = path
	if size <= 0 {
		size = j.totalBytes
	}
	j.FileSize = size
	return *j, true
}

// Fail marks the terminal failed state. Every other field is left as
// the last progress event wrote it.
func (s *Store) Fail(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		return Job{}, false
	}
	j.Status = StatusFailed
	return *j, true
}

// DropTerminal removes completed and failed jobs, leaving in-flight
// jobs untouched, and returns the remaining set.
func (s *Store) DropTerminal() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.Status.Terminal() {
			delete(s.jobs, id)
		}
	}
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}
