package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

const fileColumns = `id, job_id, file_path, file_type, file_size, metadata_json, created_at`

// FileRepository implements store.FileRepository over SQLite.
type FileRepository struct {
	db *sql.DB
}

// NewFileRepository wraps db.
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a file row and returns its assigned id.
func (r *FileRepository) Create(ctx context.Context, file collector.File) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO files (job_id, file_path, file_type, file_size, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		file.JobID, file.FilePath, string(file.FileType), file.FileSize,
		file.MetadataJSON, formatTime(file.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("inserting file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetByID loads one file or returns store.ErrNotFound.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (collector.File, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return collector.File{}, store.ErrNotFound
	}
	if err != nil {
		return collector.File{}, fmt.Errorf("loading file: %w", err)
	}
	return f, nil
}

// ListByJob returns all files for a job, oldest-first.
func (r *FileRepository) ListByJob(ctx context.Context, jobID string) ([]collector.File, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// ListByJobAndType returns a job's files of one type, oldest-first.
func (r *FileRepository) ListByJobAndType(ctx context.Context, jobID string, ft collector.FileType) ([]collector.File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE job_id = ? AND file_type = ? ORDER BY id`,
		jobID, string(ft))
	if err != nil {
		return nil, fmt.Errorf("listing files by type: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// ListByType returns files of one type across jobs, newest-first.
func (r *FileRepository) ListByType(ctx context.Context, ft collector.FileType, limit int) ([]collector.File, error) {
	q := `SELECT ` + fileColumns + ` FROM files WHERE file_type = ? ORDER BY id DESC`
	args := []any{string(ft)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files by type: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

// UpdateSize sets the stored size for a file.
func (r *FileRepository) UpdateSize(ctx context.Context, id int64, size int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET file_size = ? WHERE id = ?`, size, id)
	if err != nil {
		return fmt.Errorf("updating file size: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateMetadata replaces the metadata JSON blob for a file.
func (r *FileRepository) UpdateMetadata(ctx context.Context, id int64, metadataJSON string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET metadata_json = ? WHERE id = ?`, metadataJSON, id)
	if err != nil {
		return fmt.Errorf("updating file metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteByJob removes all file rows for a job.
func (r *FileRepository) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, fmt.Errorf("deleting files: %w", err)
	}
	return res.RowsAffected()
}

func scanFile(row rowScanner) (collector.File, error) {
	var (
		f       collector.File
		ftype   string
		created string
	)
	err := row.Scan(&f.ID, &f.JobID, &f.FilePath, &ftype, &f.FileSize, &f.MetadataJSON, &created)
	if err != nil {
		return collector.File{}, err
	}
	f.FileType = collector.FileType(ftype)
	var t time.Time
	if t, err = parseTime(created); err != nil {
		return collector.File{}, fmt.Errorf("parsing created_at: %w", err)
	}
	f.CreatedAt = t
	return f, nil
}

func scanFiles(rows *sql.Rows) ([]collector.File, error) {
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
