// Package jobs owns the job lifecycle: creation, progress updates, cancel,
// retry, delete and stale-job reconciliation. All other components write
// into a job only through this package's update contract.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// DefaultStaleWindow is how long a running job may go without an update
// before reconciliation treats it as orphaned by a crash.
const DefaultStaleWindow = 30 * time.Minute

// staleMessage is recorded on jobs force-failed by reconciliation.
const staleMessage = "Job was stale and was automatically failed after restart."

// Canceller signals a running job's cancellation token. The executor
// registers itself here so Cancel can interrupt in-flight work.
type Canceller interface {
	Cancel(jobID string) bool
}

// Service implements the job state machine over the repositories.
type Service struct {
	jobs        store.JobRepository
	files       store.FileRepository
	root        string
	clock       collector.Clock
	ids         collector.IDGenerator
	logger      *zap.Logger
	staleWindow time.Duration
	canceller   Canceller
}

// Option customizes a Service.
type Option func(*Service)

// WithStaleWindow overrides the reconciliation window.
func WithStaleWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleWindow = d
		}
	}
}

// New builds a Service. root is the download root artifact paths are
// relative to.
func New(
	jobs store.JobRepository,
	files store.FileRepository,
	root string,
	clock collector.Clock,
	ids collector.IDGenerator,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		jobs:        jobs,
		files:       files,
		root:        root,
		clock:       clock,
		ids:         ids,
		logger:      logger,
		staleWindow: DefaultStaleWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCanceller wires the executor in after construction; the executor
// depends on the service, so the reverse edge is set late.
func (s *Service) SetCanceller(c Canceller) {
	s.canceller = c
}

// Create persists a new pending job for url on platform. title may be
// empty; fetchers usually discover it later.
func (s *Service) Create(ctx context.Context, url string, platform collector.Platform, title string) (collector.Job, error) {
	now := s.clock.Now().UTC()
	job := collector.Job{
		ID:        s.ids.NewID(),
		URL:       url,
		Platform:  platform,
		Status:    collector.JobStatusPending,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return collector.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("platform", string(platform)),
		zap.String("url", url))
	return job, nil
}

// Get loads one job or returns store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (collector.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// List returns jobs newest-first per the filter.
func (s *Service) List(ctx context.Context, f store.ListFilter) ([]collector.Job, error) {
	return s.jobs.List(ctx, f)
}

// GetFiles returns a job's artifacts. The job must exist.
func (s *Service) GetFiles(ctx context.Context, jobID string) ([]collector.File, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.files.ListByJob(ctx, jobID)
}

// ListFilesByType returns the newest files of one type across all jobs.
func (s *Service) ListFilesByType(ctx context.Context, ft collector.FileType, limit int) ([]collector.File, error) {
	return s.files.ListByType(ctx, ft, limit)
}

// GetFilesByType returns a job's artifacts of one type. The job must exist.
func (s *Service) GetFilesByType(ctx context.Context, jobID string, ft collector.FileType) ([]collector.File, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.files.ListByJobAndType(ctx, jobID, ft)
}

// Update applies upd to the job. Progress is clamped to [0, 100] and a
// terminal status stamps completed_at when the caller did not. Returns
// false when upd carries no fields or the job does not exist.
func (s *Service) Update(ctx context.Context, id string, upd store.JobUpdate) (bool, error) {
	if upd.IsZero() {
		return false, nil
	}
	if upd.Progress != nil {
		p := clampProgress(*upd.Progress)
		upd.Progress = &p
	}
	now := s.clock.Now().UTC()
	if upd.Status != nil && upd.Status.IsTerminal() && upd.CompletedAt == nil {
		upd.CompletedAt = &now
	}
	ok, err := s.jobs.Update(ctx, id, upd, now)
	if err != nil {
		return false, fmt.Errorf("update job %s: %w", id, err)
	}
	return ok, nil
}

// FinishJob applies a terminal update like Update, but atomically skips a
// job that was cancelled in the meantime. Returns false when the write did
// not land, whether the job is missing or already cancelled.
func (s *Service) FinishJob(ctx context.Context, id string, upd store.JobUpdate) (bool, error) {
	if upd.IsZero() {
		return false, nil
	}
	if upd.Progress != nil {
		p := clampProgress(*upd.Progress)
		upd.Progress = &p
	}
	now := s.clock.Now().UTC()
	if upd.Status != nil && upd.Status.IsTerminal() && upd.CompletedAt == nil {
		upd.CompletedAt = &now
	}
	ok, err := s.jobs.UpdateUnlessCancelled(ctx, id, upd, now)
	if err != nil {
		return false, fmt.Errorf("finish job %s: %w", id, err)
	}
	return ok, nil
}

// ActiveJobs returns pending and running jobs, first force-failing any
// running job whose last update is older than the staleness window. This
// is the only recovery path for jobs orphaned by a process crash.
func (s *Service) ActiveJobs(ctx context.Context) ([]collector.Job, error) {
	active, err := s.jobs.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.staleWindow)

	out := active[:0]
	for _, job := range active {
		if job.Status == collector.JobStatusRunning && job.UpdatedAt.Before(cutoff) {
			s.logger.Warn("marking stale active job as failed", zap.String("job_id", job.ID))
			status := collector.JobStatusFailed
			msg := staleMessage
			if _, err := s.Update(ctx, job.ID, store.JobUpdate{
				Status:       &status,
				ErrorMessage: &msg,
			}); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// ReconcileStale runs the same staleness pass as ActiveJobs and returns
// how many jobs were failed. Used by the optional periodic sweep.
func (s *Service) ReconcileStale(ctx context.Context) (int, error) {
	active, err := s.jobs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	cutoff := s.clock.Now().UTC().Add(-s.staleWindow)
	var n int
	for _, job := range active {
		if job.Status != collector.JobStatusRunning || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		s.logger.Warn("marking stale active job as failed", zap.String("job_id", job.ID))
		status := collector.JobStatusFailed
		msg := staleMessage
		if _, err := s.Update(ctx, job.ID, store.JobUpdate{
			Status:       &status,
			ErrorMessage: &msg,
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Cancel moves a pending or running job to cancelled and signals its
// cancellation token. Any other state is a no-op returning false.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status != collector.JobStatusPending && job.Status != collector.JobStatusRunning {
		return false, nil
	}
	status := collector.JobStatusCancelled
	ok, err := s.Update(ctx, id, store.JobUpdate{Status: &status})
	if err != nil || !ok {
		return false, err
	}
	if s.canceller != nil {
		s.canceller.Cancel(id)
	}
	s.logger.Info("job cancelled", zap.String("job_id", id))
	return true, nil
}

// PrepareRetry creates a brand-new pending job copying a failed job's
// url, platform and title, with the retry count carried forward. Only
// failed jobs may be retried.
func (s *Service) PrepareRetry(ctx context.Context, id string) (collector.Job, bool, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return collector.Job{}, false, nil
	}
	if err != nil {
		return collector.Job{}, false, err
	}
	if job.Status != collector.JobStatusFailed {
		return collector.Job{}, false, nil
	}

	now := s.clock.Now().UTC()
	retry := collector.Job{
		ID:         s.ids.NewID(),
		URL:        job.URL,
		Platform:   job.Platform,
		Status:     collector.JobStatusPending,
		Title:      job.Title,
		RetryCount: job.RetryCount + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(ctx, retry); err != nil {
		return collector.Job{}, false, fmt.Errorf("create retry job: %w", err)
	}
	s.logger.Info("job retried",
		zap.String("job_id", id),
		zap.String("retry_job_id", retry.ID),
		zap.Int("retry_count", retry.RetryCount))
	return retry, true, nil
}

// Delete removes a job and its file rows. When deleteFiles is true the
// artifacts on disk go too, best-effort, including now-empty parent
// directories; when false they stay behind. Returns false when the job
// does not exist. Disk failures never block the row deletion.
func (s *Service) Delete(ctx context.Context, id string, deleteFiles bool) (bool, error) {
	files, err := s.files.ListByJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("list job files: %w", err)
	}
	if deleteFiles {
		for _, f := range files {
			s.removeArtifact(f.FilePath)
		}
	}
	if _, err := s.files.DeleteByJob(ctx, id); err != nil {
		return false, fmt.Errorf("delete file rows: %w", err)
	}
	ok, err := s.jobs.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	if ok {
		s.logger.Info("job deleted", zap.String("job_id", id), zap.Int("files", len(files)))
	}
	return ok, nil
}

// Statistics aggregates job counts and total bytes downloaded.
func (s *Service) Statistics(ctx context.Context) (collector.JobStatistics, error) {
	return s.jobs.CountByStatus(ctx)
}

// CleanupOldJobs deletes terminal jobs older than maxAge and returns how
// many were removed. File rows cascade with their job.
func (s *Service) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-maxAge)
	ids, err := s.jobs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	if len(ids) > 0 {
		s.logger.Info("old jobs cleaned up", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}

// removeArtifact unlinks one root-relative artifact and prunes empty
// ancestor directories up to, but never including, the root.
func (s *Service) removeArtifact(relPath string) {
	if s.root == "" || relPath == "" || filepath.IsAbs(relPath) {
		return
	}
	abs := filepath.Join(s.root, filepath.Clean(relPath))
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove artifact", zap.String("path", relPath), zap.Error(err))
		return
	}
	for dir := filepath.Dir(abs); isBelow(dir, s.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
}

// isBelow reports whether dir is strictly below root.
func isBelow(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
