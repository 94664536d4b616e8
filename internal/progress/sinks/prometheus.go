package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mgrall/collector/internal/progress"
)

// PrometheusSink exports job lifecycle metrics. It owns all collectors for
// jobs started/completed/running plus byte totals per platform.
type PrometheusSink struct {
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	bytesTotal    *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_jobs_started_total",
			Help: "Total jobs that have started, partitioned by platform.",
		}, []string{"platform"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_jobs_completed_total",
			Help: "Total jobs finished, partitioned by platform and result.",
		}, []string{"platform", "result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_bytes_downloaded_total",
			Help: "Bytes downloaded per platform.",
		}, []string{"platform"}),
		tracker: newJobTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime, s.bytesTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	platform := string(evt.Platform)
	if platform == "" {
		platform = "unknown"
	}
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.WithLabelValues(platform).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.finish(evt, platform, "success")
	case progress.StageJobError:
		s.finish(evt, platform, "error")
	}
}

func (s *PrometheusSink) finish(evt progress.Event, platform, result string) {
	s.jobsCompleted.WithLabelValues(platform, result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		s.bytesTotal.WithLabelValues(platform).Add(float64(evt.Bytes))
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
