// Package memory provides in-memory repository implementations for tests
// and single-process development wiring.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// JobRepository is a mutex-guarded map-backed store.JobRepository.
type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]collector.Job
}

// NewJobRepository returns an empty in-memory job repository.
func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]collector.Job)}
}

// Create inserts a job, replacing any existing row with the same id.
func (r *JobRepository) Create(_ context.Context, job collector.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

// GetByID loads one job or returns store.ErrNotFound.
func (r *JobRepository) GetByID(_ context.Context, id string) (collector.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return collector.Job{}, store.ErrNotFound
	}
	return job, nil
}

// Update applies the non-nil fields of upd.
func (r *JobRepository) Update(_ context.Context, id string, upd store.JobUpdate, updatedAt time.Time) (bool, error) {
	return r.update(id, upd, updatedAt, false)
}

// UpdateUnlessCancelled is Update guarded against overwriting a cancel.
func (r *JobRepository) UpdateUnlessCancelled(_ context.Context, id string, upd store.JobUpdate, updatedAt time.Time) (bool, error) {
	return r.update(id, upd, updatedAt, true)
}

func (r *JobRepository) update(id string, upd store.JobUpdate, updatedAt time.Time, skipCancelled bool) (bool, error) {
	if upd.IsZero() {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if skipCancelled && job.Status == collector.JobStatusCancelled {
		return false, nil
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Title != nil {
		job.Title = *upd.Title
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.CurrentOperation != nil {
		job.CurrentOperation = *upd.CurrentOperation
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.RetryCount != nil {
		job.RetryCount = *upd.RetryCount
	}
	if upd.BytesDownloaded != nil {
		job.BytesDownloaded = *upd.BytesDownloaded
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	job.UpdatedAt = updatedAt
	r.jobs[id] = job
	return true, nil
}

// List returns jobs newest-first, filtered per f.
func (r *JobRepository) List(_ context.Context, f store.ListFilter) ([]collector.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]collector.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if f.Platform != "" && job.Platform != f.Platform {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		out = append(out, job)
	}
	sortNewestFirst(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListActive returns pending and running jobs newest-first.
func (r *JobRepository) ListActive(_ context.Context) ([]collector.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []collector.Job
	for _, job := range r.jobs {
		if job.Status == collector.JobStatusPending || job.Status == collector.JobStatusRunning {
			out = append(out, job)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a job row.
func (r *JobRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false, nil
	}
	delete(r.jobs, id)
	return true, nil
}

// CountByStatus aggregates counts and bytes across all jobs.
func (r *JobRepository) CountByStatus(_ context.Context) (collector.JobStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := collector.JobStatistics{ByStatus: make(map[string]int64)}
	for _, job := range r.jobs {
		stats.Total++
		stats.ByStatus[string(job.Status)]++
		stats.BytesDownloaded += job.BytesDownloaded
	}
	return stats, nil
}

// DeleteOlderThan removes terminal jobs created before cutoff.
func (r *JobRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, job := range r.jobs {
		if job.Status.IsTerminal() && job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func sortNewestFirst(jobs []collector.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
