package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgrall/collector/internal/store"
	"github.com/mgrall/collector/internal/store/memory"
)

func TestTypedSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := memory.NewSettingsRepository()
	require.NoError(t, repo.Set(ctx, "max_jobs", "5"))
	require.NoError(t, repo.Set(ctx, "auto_retry", "true"))
	require.NoError(t, repo.Set(ctx, "quality", "0.8"))
	require.NoError(t, repo.Set(ctx, "garbage", "not-a-number"))

	ts := store.NewTypedSettings(repo)

	n, err := ts.GetInt(ctx, "max_jobs", 1)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	b, err := ts.GetBool(ctx, "auto_retry", false)
	require.NoError(t, err)
	require.True(t, b)

	f, err := ts.GetFloat(ctx, "quality", 0)
	require.NoError(t, err)
	require.InDelta(t, 0.8, f, 1e-9)

	s, err := ts.GetString(ctx, "missing", "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", s)

	n, err = ts.GetInt(ctx, "garbage", 7)
	require.NoError(t, err)
	require.Equal(t, 7, n, "unparseable value falls back to default")

	n, err = ts.GetInt(ctx, "missing", 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestJobUpdateIsZero(t *testing.T) {
	t.Parallel()

	require.True(t, store.JobUpdate{}.IsZero())
	p := 50
	require.False(t, store.JobUpdate{Progress: &p}.IsZero())
}
