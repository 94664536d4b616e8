package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/store"
	"github.com/mgrall/collector/internal/store/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type seqIDs struct {
	n int
}

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type fakeCanceller struct {
	cancelled []string
}

func (c *fakeCanceller) Cancel(jobID string) bool {
	c.cancelled = append(c.cancelled, jobID)
	return true
}

func newTestService(t *testing.T) (*Service, *memory.JobRepository, *memory.FileRepository, *fakeClock) {
	t.Helper()
	jobsRepo := memory.NewJobRepository()
	filesRepo := memory.NewFileRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(jobsRepo, filesRepo, t.TempDir(), clock, &seqIDs{}, zap.NewNop())
	return svc, jobsRepo, filesRepo, clock
}

func TestCreateStartsPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusPending, job.Status)
	require.Equal(t, 0, job.Progress)
	require.Nil(t, job.CompletedAt)
	require.True(t, job.CreatedAt.Equal(clock.now))

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.URL, got.URL)
}

func TestUpdateClampsProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)

	over := 150
	ok, err := svc.Update(ctx, job.ID, store.JobUpdate{Progress: &over})
	require.NoError(t, err)
	require.True(t, ok)
	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 100, got.Progress)

	under := -10
	ok, err = svc.Update(ctx, job.ID, store.JobUpdate{Progress: &under})
	require.NoError(t, err)
	require.True(t, ok)
	got, err = svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Progress)
}

func TestUpdateStampsCompletedAtOnTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)
	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)

	clock.advance(time.Minute)
	status := collector.JobStatusCompleted
	ok, err := svc.Update(ctx, job.ID, store.JobUpdate{Status: &status})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	require.True(t, got.CompletedAt.Equal(clock.now))
	require.True(t, got.UpdatedAt.Equal(clock.now))
}

func TestUpdateEmptyAndMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	ok, err := svc.Update(ctx, "whatever", store.JobUpdate{})
	require.NoError(t, err)
	require.False(t, ok)

	p := 10
	ok, err = svc.Update(ctx, "missing", store.JobUpdate{Progress: &p})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActiveJobsReconcilesStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	stale, err := svc.Create(ctx, "https://example.com/stale", collector.PlatformWeb, "")
	require.NoError(t, err)
	fresh, err := svc.Create(ctx, "https://example.com/fresh", collector.PlatformWeb, "")
	require.NoError(t, err)

	running := collector.JobStatusRunning
	_, err = svc.Update(ctx, stale.ID, store.JobUpdate{Status: &running})
	require.NoError(t, err)

	clock.advance(31 * time.Minute)
	_, err = svc.Update(ctx, fresh.ID, store.JobUpdate{Status: &running})
	require.NoError(t, err)

	active, err := svc.ActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, fresh.ID, active[0].ID)

	got, err := svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "stale")
	require.NotNil(t, got.CompletedAt)
}

func TestReconcileStaleCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)
	running := collector.JobStatusRunning
	_, err = svc.Update(ctx, job.ID, store.JobUpdate{Status: &running})
	require.NoError(t, err)

	n, err := svc.ReconcileStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "fresh running job is untouched")

	clock.advance(31 * time.Minute)
	n, err = svc.ReconcileStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFinishJobLosesToConcurrentCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)
	running := collector.JobStatusRunning
	_, err = svc.Update(ctx, job.ID, store.JobUpdate{Status: &running})
	require.NoError(t, err)

	ok, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	completed := collector.JobStatusCompleted
	title := "late result"
	ok, err = svc.FinishJob(ctx, job.ID, store.JobUpdate{Status: &completed, Title: &title})
	require.NoError(t, err)
	require.False(t, ok, "terminal write after a cancel does not land")

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusCancelled, got.Status)
	require.Empty(t, got.Title)
}

func TestFinishJobStampsCompletedAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)

	failed := collector.JobStatusFailed
	msg := "boom"
	ok, err := svc.FinishJob(ctx, job.ID, store.JobUpdate{Status: &failed, ErrorMessage: &msg})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.True(t, got.CompletedAt.Equal(clock.now))
}

func TestGetFilesByType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, filesRepo, _ := newTestService(t)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)
	for _, f := range []collector.File{
		{JobID: job.ID, FilePath: "web/a.mp4", FileType: collector.FileTypeVideo},
		{JobID: job.ID, FilePath: "web/a.json", FileType: collector.FileTypeMetadata},
	} {
		_, err := filesRepo.Create(ctx, f)
		require.NoError(t, err)
	}

	vids, err := svc.GetFilesByType(ctx, job.ID, collector.FileTypeVideo)
	require.NoError(t, err)
	require.Len(t, vids, 1)
	require.Equal(t, "web/a.mp4", vids[0].FilePath)

	_, err = svc.GetFilesByType(ctx, "missing", collector.FileTypeVideo)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	canceller := &fakeCanceller{}
	svc.SetCanceller(canceller)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)

	ok, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{job.ID}, canceller.cancelled)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)

	ok, err = svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, ok, "cancelling a terminal job is a no-op")

	ok, err = svc.Cancel(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrepareRetryCreatesNewPendingJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	job, err := svc.Create(ctx, "https://example.com/a", collector.PlatformWeb, "")
	require.NoError(t, err)

	_, ok, err := svc.PrepareRetry(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, ok, "only failed jobs may be retried")

	failed := collector.JobStatusFailed
	title := "A page"
	_, err = svc.Update(ctx, job.ID, store.JobUpdate{Status: &failed, Title: &title})
	require.NoError(t, err)

	retry, ok, err := svc.PrepareRetry(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, job.ID, retry.ID)
	require.Equal(t, collector.JobStatusPending, retry.Status)
	require.Equal(t, job.URL, retry.URL)
	require.Equal(t, title, retry.Title)
	require.Equal(t, 1, retry.RetryCount)
	require.Nil(t, retry.CompletedAt)

	original, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobStatusFailed, original.Status, "original job is untouched")
}

func TestDeleteRemovesArtifactsAndPrunesDirs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobsRepo := memory.NewJobRepository()
	filesRepo := memory.NewFileRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	root := t.TempDir()
	svc := New(jobsRepo, filesRepo, root, clock, &seqIDs{}, zap.NewNop())

	job, err := svc.Create(ctx, "https://youtube.com/watch?v=a", collector.PlatformYouTube, "")
	require.NoError(t, err)

	rel := filepath.Join("youtube", job.ID, "video.mp4")
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("data"), 0o644))
	_, err = filesRepo.Create(ctx, collector.File{JobID: job.ID, FilePath: rel, FileType: collector.FileTypeVideo})
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, job.ID, true)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(abs)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(abs))
	require.True(t, os.IsNotExist(err), "empty job directory is pruned")
	_, err = os.Stat(root)
	require.NoError(t, err, "root itself survives")

	_, err = svc.Get(ctx, job.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	ok, err = svc.Delete(ctx, job.ID, true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteKeepsArtifactsWhenAsked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	jobsRepo := memory.NewJobRepository()
	filesRepo := memory.NewFileRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	root := t.TempDir()
	svc := New(jobsRepo, filesRepo, root, clock, &seqIDs{}, zap.NewNop())

	job, err := svc.Create(ctx, "https://youtube.com/watch?v=a", collector.PlatformYouTube, "")
	require.NoError(t, err)

	rel := filepath.Join("youtube", job.ID, "video.mp4")
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("data"), 0o644))
	_, err = filesRepo.Create(ctx, collector.File{JobID: job.ID, FilePath: rel, FileType: collector.FileTypeVideo})
	require.NoError(t, err)

	ok, err := svc.Delete(ctx, job.ID, false)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(abs)
	require.NoError(t, err, "artifact stays on disk")

	_, err = svc.Get(ctx, job.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	files, err := filesRepo.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, files, "rows are gone either way")
}

func TestStatisticsAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, clock := newTestService(t)

	old, err := svc.Create(ctx, "https://example.com/old", collector.PlatformWeb, "")
	require.NoError(t, err)
	done := collector.JobStatusCompleted
	bytes := int64(2048)
	_, err = svc.Update(ctx, old.ID, store.JobUpdate{Status: &done, BytesDownloaded: &bytes})
	require.NoError(t, err)

	clock.advance(8 * 24 * time.Hour)
	_, err = svc.Create(ctx, "https://example.com/new", collector.PlatformWeb, "")
	require.NoError(t, err)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Total)
	require.Equal(t, int64(1), stats.ByStatus["completed"])
	require.Equal(t, int64(2048), stats.BytesDownloaded)

	n, err := svc.CleanupOldJobs(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = svc.Get(ctx, old.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
