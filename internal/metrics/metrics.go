// Package metrics exposes job lifecycle counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the job lifecycle for scraping. A nil *Metrics is a
// no-op, so the scheduler can run uninstrumented in tests.
type Metrics struct {
	jobsSubmitted   prometheus.Counter
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	activeJobs      prometheus.Gauge
	downloadedBytes prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_jobs_submitted_total",
			Help: "Download jobs accepted by the scheduler.",
		}),
		jobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_jobs_completed_total",
			Help: "Download jobs that reached the completed state.",
		}),
		jobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_jobs_failed_total",
			Help: "Download jobs that reached the failed state.",
		}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamvault_active_jobs",
			Help: "Jobs currently pending or downloading.",
		}),
		downloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamvault_downloaded_bytes_total",
			Help: "Bytes of completed downloads.",
		}),
	}
}

func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.jobsSubmitted.Inc()
	m.activeJobs.Inc()
}

func (m *Metrics) JobCompleted(bytes int64) {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
	m.activeJobs.Dec()
	if bytes > 0 {
		m.downloadedBytes.Add(float64(bytes))
	}
}

func (m *Metrics) JobFailed() {
	if m == nil {
		return
	}
	m.jobsFailed.Inc()
	m.activeJobs.Dec()
}
