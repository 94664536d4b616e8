package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

const fileColumns = `id, job_id, file_path, file_type, file_size, metadata_json, created_at`

// FileRepository implements store.FileRepository over Postgres.
type FileRepository struct {
	pool Pool
}

// NewFileRepository constructs a repository from an existing pool.
func NewFileRepository(pool Pool) (*FileRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FileRepository{pool: pool}, nil
}

// Create inserts a file row and returns its assigned id.
func (r *FileRepository) Create(ctx context.Context, file collector.File) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO files (job_id, file_path, file_type, file_size, metadata_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		file.JobID, file.FilePath, string(file.FileType), file.FileSize,
		file.MetadataJSON, file.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return id, nil
}

// GetByID loads one file or returns store.ErrNotFound.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (collector.File, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	f, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return collector.File{}, store.ErrNotFound
	}
	if err != nil {
		return collector.File{}, fmt.Errorf("load file: %w", err)
	}
	return f, nil
}

// ListByJob returns all files for a job, oldest-first.
func (r *FileRepository) ListByJob(ctx context.Context, jobID string) ([]collector.File, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// ListByJobAndType returns a job's files of one type, oldest-first.
func (r *FileRepository) ListByJobAndType(ctx context.Context, jobID string, ft collector.FileType) ([]collector.File, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE job_id = $1 AND file_type = $2 ORDER BY id`,
		jobID, string(ft))
	if err != nil {
		return nil, fmt.Errorf("list files by type: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// ListByType returns files of one type across jobs, newest-first.
func (r *FileRepository) ListByType(ctx context.Context, ft collector.FileType, limit int) ([]collector.File, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE file_type = $1 ORDER BY id DESC`
	args := []any{string(ft)}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list files by type: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// UpdateSize sets the stored size for a file.
func (r *FileRepository) UpdateSize(ctx context.Context, id int64, size int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE files SET file_size = $1 WHERE id = $2`, size, id)
	if err != nil {
		return fmt.Errorf("update file size: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateMetadata replaces the metadata JSON blob for a file.
func (r *FileRepository) UpdateMetadata(ctx context.Context, id int64, metadataJSON string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE files SET metadata_json = $1 WHERE id = $2`, metadataJSON, id)
	if err != nil {
		return fmt.Errorf("update file metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteByJob removes all file rows for a job.
func (r *FileRepository) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete files: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanFile(row pgx.Row) (collector.File, error) {
	var (
		f     collector.File
		ftype string
	)
	err := row.Scan(&f.ID, &f.JobID, &f.FilePath, &ftype, &f.FileSize, &f.MetadataJSON, &f.CreatedAt)
	if err != nil {
		return collector.File{}, err
	}
	f.FileType = collector.FileType(ftype)
	return f, nil
}

func scanFiles(rows pgx.Rows) ([]collector.File, error) {
	var files []collector.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
