package sqlitemirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/project-aether/crawler/internal/audit"
	"github.com/project-aether/crawler/internal/registry"
)

func openTestMirror(t *testing.T) *Mirror {
	t.Helper()
	m, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func terminalJob(id string, finished time.Time) audit.Job {
	return audit.Job{
		ID:         id,
		RootURL:    "https://example.com/",
		Status:     audit.StatusCompleted,
		Progress:   100,
		Results:    []audit.PageResult{{URL: "https://example.com/", PageTitle: "Home"}},
		FinishedAt: &finished,
	}
}

func TestSaveAndGetJob(t *testing.T) {
	t.Parallel()

	m := openTestMirror(t)
	ctx := context.Background()
	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveJob(ctx, terminalJob("job-1", finished)))

	got, err := m.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", got.ID)
	require.Equal(t, audit.StatusCompleted, got.Status)
	require.Len(t, got.Results, 1)
	require.Equal(t, "Home", got.Results[0].PageTitle)
	require.True(t, got.FinishedAt.Equal(finished))
}

func TestSaveJobUpserts(t *testing.T) {
	t.Parallel()

	m := openTestMirror(t)
	ctx := context.Background()
	finished := time.Now().UTC()

	job := terminalJob("job-1", finished)
	require.NoError(t, m.SaveJob(ctx, job))

	job.Status = audit.StatusFailed
	job.Error = "cancelled"
	require.NoError(t, m.SaveJob(ctx, job))

	got, err := m.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusFailed, got.Status)
	require.Equal(t, "cancelled", got.Error)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	m := openTestMirror(t)
	_, err := m.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeleteExpired(t *testing.T) {
	t.Parallel()

	m := openTestMirror(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, m.SaveJob(ctx, terminalJob("old", now.Add(-48*time.Hour))))
	require.NoError(t, m.SaveJob(ctx, terminalJob("recent", now.Add(-time.Hour))))

	running := audit.Job{ID: "running", Status: audit.StatusInProgress}
	require.NoError(t, m.SaveJob(ctx, running))

	n, err := m.DeleteExpired(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = m.GetJob(ctx, "old")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = m.GetJob(ctx, "recent")
	require.NoError(t, err)
	_, err = m.GetJob(ctx, "running")
	require.NoError(t, err)
}
