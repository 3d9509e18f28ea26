package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusQueued.Terminal())
	require.False(t, StatusInProgress.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestJobCloneIsDeep(t *testing.T) {
	t.Parallel()

	finished := time.Now().UTC()
	job := Job{
		ID:     "job-1",
		Status: StatusCompleted,
		Results: []PageResult{
			{
				URL:    "https://example.com/",
				H1Tags: []string{"Welcome"},
				Issues: []Issue{{Kind: IssueMissingTitle, Severity: SeverityMedium}},
			},
		},
		FinishedAt: &finished,
	}

	snapshot := job.Clone()

	orig := finished
	job.Results[0].Issues = append(job.Results[0].Issues, Issue{Kind: IssueBrokenLink})
	job.Results[0].H1Tags[0] = "mutated"
	*job.FinishedAt = job.FinishedAt.Add(time.Hour)

	require.Len(t, snapshot.Results[0].Issues, 1)
	require.Equal(t, "Welcome", snapshot.Results[0].H1Tags[0])
	require.Equal(t, orig, *snapshot.FinishedAt)
}
