// Package store declares interfaces for persisting jobs, files and settings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mgrall/collector/internal/collector"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// JobUpdate is the closed set of fields a caller may change on a job.
// Nil fields are left untouched. The set is fixed at compile time; no
// caller-supplied string ever selects a column.
type JobUpdate struct {
	Status           *collector.JobStatus
	Title            *string
	Progress         *int
	CurrentOperation *string
	ErrorMessage     *string
	RetryCount       *int
	BytesDownloaded  *int64
	CompletedAt      *time.Time
}

// IsZero reports whether the update carries no fields.
func (u JobUpdate) IsZero() bool {
	return u.Status == nil &&
		u.Title == nil &&
		u.Progress == nil &&
		u.CurrentOperation == nil &&
		u.ErrorMessage == nil &&
		u.RetryCount == nil &&
		u.BytesDownloaded == nil &&
		u.CompletedAt == nil
}

// ListFilter narrows job listings. Zero values mean "no constraint";
// Limit <= 0 means no limit.
type ListFilter struct {
	Platform collector.Platform
	Status   collector.JobStatus
	Limit    int
	Offset   int
}

// JobRepository persists jobs. Every method opens a short-lived statement;
// no transaction spans the life of a job.
type JobRepository interface {
	// Create inserts a new job row.
	Create(ctx context.Context, job collector.Job) error
	// GetByID loads one job or returns ErrNotFound.
	GetByID(ctx context.Context, id string) (collector.Job, error)
	// Update applies the non-nil fields of upd plus the updated_at bump.
	// It returns false when upd carries no fields or the job does not exist.
	Update(ctx context.Context, id string, upd JobUpdate, updatedAt time.Time) (bool, error)
	// UpdateUnlessCancelled is Update with a guard: a job whose status is
	// already cancelled is left untouched and false is returned. The check
	// and the write are one statement, so a concurrent cancel cannot be
	// overwritten.
	UpdateUnlessCancelled(ctx context.Context, id string, upd JobUpdate, updatedAt time.Time) (bool, error)
	// List returns jobs newest-first, filtered per f.
	List(ctx context.Context, f ListFilter) ([]collector.Job, error)
	// ListActive returns all pending and running jobs newest-first.
	ListActive(ctx context.Context) ([]collector.Job, error)
	// Delete removes a job row (cascading to its files where the store
	// supports it). Returns false when the job does not exist.
	Delete(ctx context.Context, id string) (bool, error)
	// CountByStatus aggregates job counts and total bytes downloaded.
	CountByStatus(ctx context.Context) (collector.JobStatistics, error)
	// DeleteOlderThan removes terminal jobs created before cutoff and
	// returns the ids removed so the caller can clean their artifacts.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// FileRepository persists artifact records produced by jobs.
type FileRepository interface {
	// Create inserts a file row and returns its assigned id.
	Create(ctx context.Context, file collector.File) (int64, error)
	// GetByID loads one file or returns ErrNotFound.
	GetByID(ctx context.Context, id int64) (collector.File, error)
	// ListByJob returns all files for a job, oldest-first.
	ListByJob(ctx context.Context, jobID string) ([]collector.File, error)
	// ListByJobAndType returns a job's files of one type, oldest-first.
	ListByJobAndType(ctx context.Context, jobID string, ft collector.FileType) ([]collector.File, error)
	// ListByType returns files of one type across jobs, newest-first.
	ListByType(ctx context.Context, ft collector.FileType, limit int) ([]collector.File, error)
	// UpdateSize sets the stored size for a file.
	UpdateSize(ctx context.Context, id int64, size int64) error
	// UpdateMetadata replaces the metadata JSON blob for a file.
	UpdateMetadata(ctx context.Context, id int64, metadataJSON string) error
	// DeleteByJob removes all file rows for a job and returns the count.
	DeleteByJob(ctx context.Context, jobID string) (int64, error)
}

// SettingsRepository persists string key/value application settings with
// their last-write timestamp.
type SettingsRepository interface {
	// Get loads one setting or returns ErrNotFound.
	Get(ctx context.Context, key string) (collector.Setting, error)
	// Set inserts or replaces a setting, stamping its updated_at.
	Set(ctx context.Context, key, value string) error
	// Delete removes a setting; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// All returns every setting ordered by key.
	All(ctx context.Context) ([]collector.Setting, error)
}
