package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

const jobColumns = `id, url, platform, status, title, progress, current_operation,
	error_message, retry_count, bytes_downloaded, created_at, updated_at, completed_at`

// JobRepository implements store.JobRepository over SQLite.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository wraps db.
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job row.
func (r *JobRepository) Create(ctx context.Context, job collector.Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, string(job.Platform), string(job.Status), job.Title,
		job.Progress, job.CurrentOperation, job.ErrorMessage, job.RetryCount,
		job.BytesDownloaded, formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
		formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// GetByID loads one job or returns store.ErrNotFound.
func (r *JobRepository) GetByID(ctx context.Context, id string) (collector.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collector.Job{}, store.ErrNotFound
	}
	if err != nil {
		return collector.Job{}, fmt.Errorf("loading job: %w", err)
	}
	return job, nil
}

// Update applies the non-nil fields of upd. Each field appends its own
// literal SET clause; the column list never comes from the caller.
func (r *JobRepository) Update(ctx context.Context, id string, upd store.JobUpdate, updatedAt time.Time) (bool, error) {
	return r.update(ctx, id, upd, updatedAt, "")
}

// UpdateUnlessCancelled is Update guarded against overwriting a cancel:
// the status check rides in the UPDATE's WHERE clause.
func (r *JobRepository) UpdateUnlessCancelled(ctx context.Context, id string, upd store.JobUpdate, updatedAt time.Time) (bool, error) {
	return r.update(ctx, id, upd, updatedAt, " AND status != 'cancelled'")
}

func (r *JobRepository) update(ctx context.Context, id string, upd store.JobUpdate, updatedAt time.Time, guard string) (bool, error) {
	if upd.IsZero() {
		return false, nil
	}

	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *upd.Progress)
	}
	if upd.CurrentOperation != nil {
		sets = append(sets, "current_operation = ?")
		args = append(args, *upd.CurrentOperation)
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *upd.RetryCount)
	}
	if upd.BytesDownloaded != nil {
		sets = append(sets, "bytes_downloaded = ?")
		args = append(args, *upd.BytesDownloaded)
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTime(*upd.CompletedAt))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(updatedAt))
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?"+guard, args...)
	if err != nil {
		return false, fmt.Errorf("updating job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns jobs newest-first, filtered per f.
func (r *JobRepository) List(ctx context.Context, f store.ListFilter) ([]collector.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListActive returns pending and running jobs newest-first.
func (r *JobRepository) ListActive(ctx context.Context) ([]collector.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?)
		ORDER BY created_at DESC, id DESC`,
		string(collector.JobStatusPending), string(collector.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("listing active jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Delete removes a job row; files cascade via the foreign key.
func (r *JobRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountByStatus aggregates job counts and total bytes downloaded.
func (r *JobRepository) CountByStatus(ctx context.Context) (collector.JobStatistics, error) {
	stats := collector.JobStatistics{ByStatus: make(map[string]int64)}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(bytes_downloaded), 0) FROM jobs`).Scan(&stats.BytesDownloaded)
	if err != nil {
		return stats, fmt.Errorf("summing bytes: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes terminal jobs created before cutoff.
func (r *JobRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	terminal := []any{
		string(collector.JobStatusCompleted),
		string(collector.JobStatusFailed),
		string(collector.JobStatusCancelled),
		formatTime(cutoff),
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status IN (?, ?, ?) AND created_at < ? ORDER BY id`,
		terminal...)
	if err != nil {
		return nil, fmt.Errorf("selecting old jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		_, err = r.db.ExecContext(ctx, `
			DELETE FROM jobs WHERE status IN (?, ?, ?) AND created_at < ?`,
			terminal...)
		if err != nil {
			return nil, fmt.Errorf("deleting old jobs: %w", err)
		}
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (collector.Job, error) {
	var (
		job              collector.Job
		platform, status string
		created, updated string
		completed        sql.NullString
	)
	err := row.Scan(&job.ID, &job.URL, &platform, &status, &job.Title,
		&job.Progress, &job.CurrentOperation, &job.ErrorMessage, &job.RetryCount,
		&job.BytesDownloaded, &created, &updated, &completed)
	if err != nil {
		return collector.Job{}, err
	}
	job.Platform = collector.Platform(platform)
	job.Status = collector.JobStatus(status)
	if job.CreatedAt, err = parseTime(created); err != nil {
		return collector.Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(updated); err != nil {
		return collector.Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return collector.Job{}, fmt.Errorf("parsing completed_at: %w", err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]collector.Job, error) {
	var jobs []collector.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
