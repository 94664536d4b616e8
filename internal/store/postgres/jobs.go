package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

const jobColumns = `id, url, platform, status, title, progress, current_operation,
	error_message, retry_count, bytes_downloaded, created_at, updated_at, completed_at`

// JobRepository implements store.JobRepository over Postgres.
type JobRepository struct {
	pool Pool
}

// NewJobRepository constructs a repository from an existing pool
// (pgxmock in tests).
func NewJobRepository(pool Pool) (*JobRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobRepository{pool: pool}, nil
}

// Create inserts a new job row.
func (r *JobRepository) Create(ctx context.Context, job collector.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		job.ID, job.URL, string(job.Platform), string(job.Status), job.Title,
		job.Progress, job.CurrentOperation, job.ErrorMessage, job.RetryCount,
		job.BytesDownloaded, job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID loads one job or returns store.ErrNotFound.
func (r *JobRepository) GetByID(ctx context.Context, id string) (collector.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return collector.Job{}, store.ErrNotFound
	}
	if err != nil {
		return collector.Job{}, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

// Update applies the non-nil fields of upd. Every SET clause is a literal;
// the column list never comes from the caller.
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
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.CurrentOperation != nil {
		add("current_operation", *upd.CurrentOperation)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.RetryCount != nil {
		add("retry_count", *upd.RetryCount)
	}
	if upd.BytesDownloaded != nil {
		add("bytes_downloaded", *upd.BytesDownloaded)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	add("updated_at", updatedAt)
	args = append(args, id)

	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d%s", strings.Join(sets, ", "), len(args), guard),
		args...)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns jobs newest-first, filtered per f.
func (r *JobRepository) List(ctx context.Context, f store.ListFilter) ([]collector.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Platform != "" {
		args = append(args, string(f.Platform))
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListActive returns pending and running jobs newest-first.
func (r *JobRepository) ListActive(ctx context.Context) ([]collector.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ($1, $2)
		ORDER BY created_at DESC, id DESC`,
		string(collector.JobStatusPending), string(collector.JobStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Delete removes a job row; files cascade via the foreign key.
func (r *JobRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus aggregates job counts and total bytes downloaded.
func (r *JobRepository) CountByStatus(ctx context.Context) (collector.JobStatistics, error) {
	stats := collector.JobStatistics{ByStatus: make(map[string]int64)}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
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

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(bytes_downloaded), 0) FROM jobs`).Scan(&stats.BytesDownloaded)
	if err != nil {
		return stats, fmt.Errorf("sum bytes: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes terminal jobs created before cutoff.
func (r *JobRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3) AND created_at < $4
		RETURNING id`,
		string(collector.JobStatusCompleted),
		string(collector.JobStatusFailed),
		string(collector.JobStatusCancelled),
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete old jobs: %w", err)
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
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (collector.Job, error) {
	var (
		job              collector.Job
		platform, status string
	)
	err := row.Scan(&job.ID, &job.URL, &platform, &status, &job.Title,
		&job.Progress, &job.CurrentOperation, &job.ErrorMessage, &job.RetryCount,
		&job.BytesDownloaded, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return collector.Job{}, err
	}
	job.Platform = collector.Platform(platform)
	job.Status = collector.JobStatus(status)
	return job, nil
}

func scanJobs(rows pgx.Rows) ([]collector.Job, error) {
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
