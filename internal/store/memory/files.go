package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

// FileRepository is a mutex-guarded map-backed store.FileRepository.
type FileRepository struct {
	mu     sync.RWMutex
	nextID int64
	files  map[int64]collector.File
}

// NewFileRepository returns an empty in-memory file repository.
func NewFileRepository() *FileRepository {
	return &FileRepository{files: make(map[int64]collector.File)}
}

// Create inserts a file row and returns its assigned id.
func (r *FileRepository) Create(_ context.Context, file collector.File) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	file.ID = r.nextID
	r.files[file.ID] = file
	return file.ID, nil
}

// GetByID loads one file or returns store.ErrNotFound.
func (r *FileRepository) GetByID(_ context.Context, id int64) (collector.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return collector.File{}, store.ErrNotFound
	}
	return f, nil
}

// ListByJob returns all files for a job, oldest-first.
func (r *FileRepository) ListByJob(_ context.Context, jobID string) ([]collector.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []collector.File
	for _, f := range r.files {
		if f.JobID == jobID {
			out = append(out, f)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

// ListByJobAndType returns a job's files of one type, oldest-first.
func (r *FileRepository) ListByJobAndType(_ context.Context, jobID string, ft collector.FileType) ([]collector.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []collector.File
	for _, f := range r.files {
		if f.JobID == jobID && f.FileType == ft {
			out = append(out, f)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

// ListByType returns files of one type across jobs, newest-first.
func (r *FileRepository) ListByType(_ context.Context, ft collector.FileType, limit int) ([]collector.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []collector.File
	for _, f := range r.files {
		if f.FileType == ft {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateSize sets the stored size for a file.
func (r *FileRepository) UpdateSize(_ context.Context, id int64, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return store.ErrNotFound
	}
	f.FileSize = size
	r.files[id] = f
	return nil
}

// UpdateMetadata replaces the metadata JSON blob for a file.
func (r *FileRepository) UpdateMetadata(_ context.Context, id int64, metadataJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return store.ErrNotFound
	}
	f.MetadataJSON = metadataJSON
	r.files[id] = f
	return nil
}

// DeleteByJob removes all file rows for a job.
func (r *FileRepository) DeleteByJob(_ context.Context, jobID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, f := range r.files {
		if f.JobID == jobID {
			delete(r.files, id)
			n++
		}
	}
	return n, nil
}

func sortOldestFirst(files []collector.File) {
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
}
