package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
)

func newJob(id string, status collector.JobStatus, createdAt time.Time) collector.Job {
	return collector.Job{
		ID:        id,
		URL:       "https://example.com/" + id,
		Platform:  collector.PlatformWeb,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestJobRepositoryCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newJob("a", collector.JobStatusPending, base)))
	require.NoError(t, repo.Create(ctx, newJob("b", collector.JobStatusRunning, base.Add(time.Minute))))

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusPending, got.Status)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	jobs, err := repo.List(ctx, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "b", jobs[0].ID, "newest first")

	ok, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Delete(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJobRepositoryUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newJob("a", collector.JobStatusRunning, base)))

	status := collector.JobStatusCompleted
	progress := 100
	done := base.Add(time.Hour)
	ok, err := repo.Update(ctx, "a", store.JobUpdate{
		Status:      &status,
		Progress:    &progress,
		CompletedAt: &done,
	}, done)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
	require.True(t, got.UpdatedAt.Equal(done))

	ok, err = repo.Update(ctx, "a", store.JobUpdate{}, done)
	require.NoError(t, err)
	require.False(t, ok, "empty update is a no-op")

	ok, err = repo.Update(ctx, "missing", store.JobUpdate{Status: &status}, done)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJobRepositoryListFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := newJob("a", collector.JobStatusPending, base)
	a.Platform = collector.PlatformYouTube
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, newJob("b", collector.JobStatusCompleted, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newJob("c", collector.JobStatusRunning, base.Add(2*time.Minute))))

	jobs, err := repo.List(ctx, store.ListFilter{Platform: collector.PlatformYouTube})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "a", jobs[0].ID)

	jobs, err = repo.List(ctx, store.ListFilter{Status: collector.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = repo.List(ctx, store.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "b", jobs[0].ID)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "c", active[0].ID)
}

func TestJobRepositoryStatsAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewJobRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := newJob("old", collector.JobStatusCompleted, base)
	old.BytesDownloaded = 1024
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, newJob("stuck", collector.JobStatusRunning, base)))
	require.NoError(t, repo.Create(ctx, newJob("new", collector.JobStatusFailed, base.Add(48*time.Hour))))

	stats, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Total)
	require.Equal(t, int64(1), stats.ByStatus["completed"])
	require.Equal(t, int64(1024), stats.BytesDownloaded)

	removed, err := repo.DeleteOlderThan(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, removed, "running jobs survive cleanup")
}

func TestFileRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewFileRepository()

	id1, err := repo.Create(ctx, collector.File{JobID: "j1", FilePath: "youtube/a.mp4", FileType: collector.FileTypeVideo})
	require.NoError(t, err)
	id2, err := repo.Create(ctx, collector.File{JobID: "j1", FilePath: "youtube/a.json", FileType: collector.FileTypeMetadata})
	require.NoError(t, err)
	_, err = repo.Create(ctx, collector.File{JobID: "j2", FilePath: "web/b.html", FileType: collector.FileTypeMetadata})
	require.NoError(t, err)

	files, err := repo.ListByJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, id1, files[0].ID, "oldest first")

	vids, err := repo.ListByJobAndType(ctx, "j1", collector.FileTypeVideo)
	require.NoError(t, err)
	require.Len(t, vids, 1)

	meta, err := repo.ListByType(ctx, collector.FileTypeMetadata, 1)
	require.NoError(t, err)
	require.Len(t, meta, 1)
	require.Equal(t, "j2", meta[0].JobID, "newest first")

	require.NoError(t, repo.UpdateSize(ctx, id1, 2048))
	require.NoError(t, repo.UpdateMetadata(ctx, id2, `{"duration":12}`))
	f, err := repo.GetByID(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, int64(2048), f.FileSize)

	n, err := repo.DeleteByJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	_, err = repo.GetByID(ctx, id1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSettingsRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewSettingsRepository()

	_, err := repo.Get(ctx, "theme")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.Set(ctx, "theme", "dark"))
	v, err := repo.Get(ctx, "theme")
	require.NoError(t, err)
	require.Equal(t, "dark", v.Value)
	require.False(t, v.UpdatedAt.IsZero())
	first := v.UpdatedAt

	require.NoError(t, repo.Set(ctx, "theme", "light"))
	v, err = repo.Get(ctx, "theme")
	require.NoError(t, err)
	require.Equal(t, "light", v.Value)
	require.False(t, v.UpdatedAt.Before(first), "replacing a value bumps updated_at")

	require.NoError(t, repo.Set(ctx, "aaa", "1"))
	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "aaa", all[0].Key, "settings come back ordered by key")
	require.Equal(t, "theme", all[1].Key)

	require.NoError(t, repo.Delete(ctx, "theme"))
	require.NoError(t, repo.Delete(ctx, "theme"), "double delete is fine")
}
