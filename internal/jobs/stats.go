package jobs

import "sync"

// Stats is the process-wide download accounting, as served to clients
// and pushed in every broadcast.
type Stats struct {
	TotalDownloads  int     `json:"total_downloads"`
	ActiveDownloads int     `json:"active_downloads"`
	DoneDownloads   int     `json:"done_downloads"`
	TotalSize       int64   `json:"total_size"`
	AverageSpeed    float64 `json:"average_speed"`
}

// Counters owns Stats behind a mutex; every transition from the
// scheduler lands here exactly once.
type Counters struct {
	mu sync.Mutex
	s  Stats
}

func NewCounters() *Counters {
	return &Counters{}
}

// JobCreated accounts a newly submitted job.
func (c *Counters) JobCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.TotalDownloads++
	c.s.ActiveDownloads++
}

// JobCompleted accounts a finished transfer. The active counter is
// clamped at zero; it must never go negative.
func (c *Counters) JobCompleted(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.DoneDownloads++
	if c.s.ActiveDownloads > 0 {
		c.s.ActiveDownloads--
	}
	c.s.TotalSize += size
}

// JobFailed intentionally does not touch ActiveDownloads: the
// original system only decrements on completion, and ClearHistory's
// recomputation is what re-syncs the counter. Kept bug-for-bug.
func (c *Counters) JobFailed() {}

// Snapshot returns a copy of the current stats.
func (c *Counters) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Reset recomputes the counters from the surviving live jobs after a
// history clear. This is a destructive reset, not a subtraction:
// total becomes the live count, done drops to zero, size is re-summed
// from remaining completed jobs.
func (c *Counters) Reset(remaining []Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = Stats{TotalDownloads: len(remaining)}
	for _, j := range remaining {
		switch j.Status {
		case StatusDownloading:
			c.s.ActiveDownloads++
		case StatusCompleted:
			c.s.TotalSize += j.FileSize
		}
	}
}
