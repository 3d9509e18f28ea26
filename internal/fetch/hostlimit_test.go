package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLimiterDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.wait(ctx, "https://example.com/a"))
	require.NoError(t, l.wait(ctx, "https://example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestHostLimiterDistinctHostsDoNotSerialize(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(200 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.wait(ctx, "https://one.example/"))
	require.NoError(t, l.wait(ctx, "https://two.example/"))
	require.NoError(t, l.wait(ctx, "https://three.example/"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostLimiterZeroDelayNeverBlocks(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.wait(ctx, "https://example.com/"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestHostLimiterWaitCancellation(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.wait(ctx, "https://example.com/"))

	cancel()
	err := l.wait(ctx, "https://example.com/")
	require.Error(t, err)
}
