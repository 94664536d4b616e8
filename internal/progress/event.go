// Package progress defines the lifecycle event stream emitted as jobs run.
// The stream is observability-only; persisted job state flows through the
// job service, never through here.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/mgrall/collector/internal/collector"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Event captures a single job lifecycle milestone.
type Event struct {
	// JobID identifies the job.
	JobID string
	// Platform is the job's fetcher platform.
	Platform collector.Platform
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Percent carries the progress percentage for JOB_PROGRESS events.
	Percent int
	// Operation is the short description shown alongside the percentage.
	Operation string
	// Bytes carries the byte total reported at completion.
	Bytes int64
	// Dur captures wall time for terminal events.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageJobProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
