// Package collector defines core types shared across subsystems.
package collector

import (
	"time"
)

// JobStatus represents the lifecycle state of a fetch job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status ends the job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is one of the persisted values.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job represents the metadata persisted for each submitted fetch request.
type Job struct {
	ID               string     `json:"id"`
	URL              string     `json:"url"`
	Platform         Platform   `json:"platform"`
	Status           JobStatus  `json:"status"`
	Title            string     `json:"title,omitempty"`
	Progress         int        `json:"progress"`
	CurrentOperation string     `json:"current_operation,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	RetryCount       int        `json:"retry_count"`
	BytesDownloaded  int64      `json:"bytes_downloaded"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// FileType categorizes an artifact produced by a job.
type FileType string

// File type values persisted in the file store.
const (
	FileTypeVideo      FileType = "video"
	FileTypeImage      FileType = "image"
	FileTypeAudio      FileType = "audio"
	FileTypeMetadata   FileType = "metadata"
	FileTypeTranscript FileType = "transcript"
)

// Valid reports whether the file type is one of the persisted values.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeVideo, FileTypeImage, FileTypeAudio, FileTypeMetadata, FileTypeTranscript:
		return true
	}
	return false
}

// File is persisted for each artifact a job produces. FilePath is always
// relative to the configured download root.
type File struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	FilePath     string    `json:"file_path"`
	FileType     FileType  `json:"file_type"`
	FileSize     int64     `json:"file_size"`
	MetadataJSON string    `json:"metadata_json,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScrapedFile describes one artifact reported by a fetcher.
type ScrapedFile struct {
	Path string
	Type FileType
	Size int64
}

// ScrapeResult is returned by a Fetcher implementation.
type ScrapeResult struct {
	Success  bool
	Title    string
	Files    []ScrapedFile
	Metadata map[string]any
	Err      string
}

// Setting is one persisted application setting. UpdatedAt tracks the last
// write so operators can tell a fresh value from a stale one.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStatistics aggregates job counts for the stats endpoint.
type JobStatistics struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"by_status"`
	BytesDownloaded int64            `json:"bytes_downloaded"`
}
