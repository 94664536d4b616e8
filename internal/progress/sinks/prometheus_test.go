package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{JobID: "job-1", Platform: collector.PlatformYouTube, TS: time.Now(), Stage: progress.StageJobStart},
		{
			JobID:     "job-1",
			Platform:  collector.PlatformYouTube,
			TS:        time.Now().Add(5 * time.Second),
			Stage:     progress.StageJobProgress,
			Percent:   50,
			Operation: "downloading video",
		},
		{
			JobID:    "job-1",
			Platform: collector.PlatformYouTube,
			TS:       time.Now().Add(15 * time.Second),
			Stage:    progress.StageJobDone,
			Bytes:    4096,
			Dur:      15 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted.WithLabelValues("youtube")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("youtube", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("youtube", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.InDelta(t, 4096.0, testutil.ToFloat64(sink.bytesTotal.WithLabelValues("youtube")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "collector_job_runtime_seconds"))
}

// TestPrometheusSinkRunningGauge verifies start/error pairs keep the gauge balanced.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", Platform: collector.PlatformWeb, TS: now, Stage: progress.StageJobStart},
		{JobID: "b", Platform: collector.PlatformWeb, TS: now, Stage: progress.StageJobStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", Platform: collector.PlatformWeb, TS: now, Stage: progress.StageJobError, Note: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("web", "error")))
}
